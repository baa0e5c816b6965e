package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

// graphql-transport-ws protocol message types
const (
	gqlConnectionInit      = "connection_init"
	gqlConnectionAck       = "connection_ack"
	gqlSubscribe           = "subscribe"
	gqlNext                = "next"
	gqlError               = "error"
	gqlComplete            = "complete"
	gqlPing                = "ping"
	gqlPong                = "pong"
	gqlConnectionKeepAlive = "ka"
)

// wsMessage represents a graphql-transport-ws protocol message.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload for subscribe messages.
type wsSubscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// progressRecord is a progress event as the service serializes it.
type progressRecord struct {
	ID       string  `json:"id"`
	Progress int     `json:"progress"`
	Step     string  `json:"step"`
	Status   string  `json:"status"`
	Error    *string `json:"error,omitempty"`
}

// ProgressEvent is a progress channel message. Error is only set alongside a
// failed status.
type ProgressEvent struct {
	models.ProgressEvent
	Error string
}

// handshakeTimeout bounds both the websocket upgrade and the wait for
// connection_ack.
const handshakeTimeout = 10 * time.Second

// wsConn serializes writes and closes the connection at most once.
type wsConn struct {
	*websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(v)
}

func (w *wsConn) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.Conn.Close()
	}
}

// ErrSubscriptionClosed is sent when the connection drops before the server
// completes the subscription.
var ErrSubscriptionClosed = errors.New("progress subscription closed")

// websocketURL derives the ws:// endpoint from the HTTP endpoint.
func (c *Client) websocketURL() (string, error) {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return u.String(), nil
}

// Subscribe opens the progress channel for one item. Events are delivered in
// the order the server sends them. The events channel is closed when the
// server completes the subscription, when a terminal status is received, or
// when ctx is cancelled. A transport failure is sent on errs before close.
func (c *Client) Subscribe(ctx context.Context, id string) (<-chan ProgressEvent, <-chan error, error) {
	endpoint, err := c.websocketURL()
	if err != nil {
		return nil, nil, err
	}

	// Connect with graphql-transport-ws subprotocol
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{"graphql-transport-ws"},
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("websocket connect: %w", err)
	}

	ws := &wsConn{Conn: conn}

	// The watcher covers the handshake too; readProgress stops it via done.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ws.close()
		case <-done:
		}
	}()

	if err := c.handshake(ws, id); err != nil {
		close(done)
		ws.close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, fmt.Errorf("progress handshake: %w", ctxErr)
		}
		return nil, nil, err
	}

	c.logger.Debug("progress subscription open", "id", id, "endpoint", endpoint)

	events := make(chan ProgressEvent, 16)
	errs := make(chan error, 1)
	go c.readProgress(ctx, ws, done, events, errs)
	return events, errs, nil
}

func (c *Client) handshake(ws *wsConn, id string) error {
	// Send connection_init
	if err := ws.writeJSON(wsMessage{Type: gqlConnectionInit}); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}

	// Wait for connection_ack
	if err := ws.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("set ack deadline: %w", err)
	}
	var ackMsg wsMessage
	if err := ws.ReadJSON(&ackMsg); err != nil {
		return fmt.Errorf("read connection_ack: %w", err)
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear ack deadline: %w", err)
	}
	if ackMsg.Type != gqlConnectionAck {
		return fmt.Errorf("expected connection_ack, got %s", ackMsg.Type)
	}

	const subscriptionQuery = `
		subscription Progress($id: ID!) {
			progress(id: $id) { id progress step status error }
		}
	`

	payload, err := json.Marshal(wsSubscribePayload{
		Query:     subscriptionQuery,
		Variables: map[string]any{"id": id},
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	subMsg := wsMessage{
		ID:      uuid.New().String(),
		Type:    gqlSubscribe,
		Payload: payload,
	}
	if err := ws.writeJSON(subMsg); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	return nil
}

func (c *Client) readProgress(ctx context.Context, ws *wsConn, done chan struct{}, events chan<- ProgressEvent, errs chan<- error) {
	defer close(events)
	defer close(errs)
	defer ws.close()
	defer close(done)

	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		c.logger.Debug("progress subscription lost", "error", err)
		errs <- err
	}

	// Read messages until complete or error
	for {
		var msg wsMessage
		if err := ws.ReadJSON(&msg); err != nil {
			fail(fmt.Errorf("%w: %v", ErrSubscriptionClosed, err))
			return
		}

		switch msg.Type {
		case gqlNext:
			var data struct {
				Data struct {
					Progress progressRecord `json:"progress"`
				} `json:"data"`
			}
			if err := json.Unmarshal(msg.Payload, &data); err != nil {
				fail(fmt.Errorf("unmarshal next payload: %w", err))
				return
			}

			ev := toEvent(data.Data.Progress)
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}

			if ev.Status.IsTerminal() {
				return
			}

		case gqlError:
			var gqlErrs []graphQLError
			if err := json.Unmarshal(msg.Payload, &gqlErrs); err != nil || len(gqlErrs) == 0 {
				fail(fmt.Errorf("subscription error: %s", string(msg.Payload)))
				return
			}
			fail(fmt.Errorf("subscription error: %s", gqlErrs[0].Message))
			return

		case gqlComplete:
			return

		case gqlPing:
			if err := ws.writeJSON(wsMessage{Type: gqlPong}); err != nil {
				fail(fmt.Errorf("send pong: %w", err))
				return
			}

		case gqlConnectionKeepAlive:
			continue

		default:
			// Ignore unknown message types
			continue
		}
	}
}

func toEvent(r progressRecord) ProgressEvent {
	// Unknown statuses become absent; the event still carries progress.
	status, _ := models.ParseStatus(r.Status)
	return ProgressEvent{
		ProgressEvent: models.ProgressEvent{
			ID:       r.ID,
			Progress: r.Progress,
			Step:     r.Step,
			Status:   status,
		},
		Error: deref(r.Error),
	}
}
