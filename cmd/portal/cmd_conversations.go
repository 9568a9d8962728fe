package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/financecommander/AI-PORTAL-sub000/internal/config"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg)

		limit, _ := cmd.Flags().GetInt("limit")
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		convs, err := st.ListConversations(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No conversations stored.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tTARGET\tUPDATED")
		for _, c := range convs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Title, c.Target.Describe(), c.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg)

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		conv, err := st.GetConversation(ctx, args[0])
		if err != nil {
			return err
		}
		if conv == nil {
			return fmt.Errorf("conversation %s not found", args[0])
		}
		turns, err := st.GetTurns(ctx, conv.ID)
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s, %d turns)\n\n", conv.Title, conv.Target.Describe(), len(turns))
		for _, t := range turns {
			switch t.Role {
			case domain.RoleUser:
				fmt.Printf("you> %s\n", t.Content)
			case domain.RoleAssistant:
				fmt.Println(t.Content)
			}
		}
		return nil
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored conversation and its turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg)

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteConversation(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)

	conversationsListCmd.Flags().Int("limit", 20, "Maximum conversations to list (0 for all)")
}
