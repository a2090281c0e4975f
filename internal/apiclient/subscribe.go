package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
	"github.com/gorilla/websocket"
)

// Subscribe opens the event websocket and calls handle for every event until
// ctx is cancelled or the connection drops.
func (c *Client) Subscribe(ctx context.Context, handle func(models.ConversationEvent)) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial events: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}

		var event models.ConversationEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		handle(event)
	}
}

func (c *Client) websocketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api/v1/ws"
	parsed.RawQuery = url.Values{"token": []string{c.token}}.Encode()
	return parsed.String(), nil
}
