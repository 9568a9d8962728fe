package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/financecommander/AI-PORTAL-sub000/internal/auth"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

// Channel is the duplex event channel for one pipeline run.
type Channel struct {
	conn *websocket.Conn
}

// DialChannel connects to the run's event channel and sends the auth
// frame. The credential travels in the first application message, never
// in the URL.
func DialChannel(ctx context.Context, wsBaseURL, pipelineID string, session *auth.Session) (*Channel, error) {
	u := strings.TrimSuffix(wsBaseURL, "/") + "/ws/pipelines/" + pipelineID

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	token, _ := session.Token()
	if err := conn.WriteJSON(&domain.AuthMessage{Type: domain.TypeAuth, Token: token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write auth: %w", err)
	}

	return &Channel{conn: conn}, nil
}

// ReadEvent returns the next decodable event frame. Frames that do not
// decode into the envelope are dropped.
func (ch *Channel) ReadEvent() (*domain.PipelineEvent, error) {
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		var evt domain.PipelineEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("dropping undecodable channel frame", "error", err)
			continue
		}
		return &evt, nil
	}
}

// Close closes the underlying connection. Safe to call more than once.
func (ch *Channel) Close() error {
	return ch.conn.Close()
}
