package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/financecommander/AI-PORTAL-sub000/internal/auth"
	"github.com/financecommander/AI-PORTAL-sub000/internal/config"
)

var specialistsCmd = &cobra.Command{
	Use:   "specialists",
	Short: "List the specialists the backend offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg)

		client := buildClient(cfg, auth.NewSession(cfg.Token))
		specialists, err := client.ListSpecialists(cmd.Context())
		if err != nil {
			return err
		}
		if len(specialists) == 0 {
			fmt.Println("No specialists available.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMODEL\tDESCRIPTION")
		for _, s := range specialists {
			fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\n", s.ID, s.Name, s.Provider, s.Model, s.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(specialistsCmd)
}
