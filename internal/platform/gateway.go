// internal/platform/gateway.go
package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"communityos-bot/internal/common/logger"
	"communityos-bot/internal/common/metrics"
	"communityos-bot/internal/common/validation"
)

// gatewayFrame is the wire envelope for one gateway event.
type gatewayFrame struct {
	Type    string          `json:"t"`
	Payload json.RawMessage `json:"d"`
}

// Gateway reads the platform's websocket event stream and delivers
// validated, typed events on Events(). It reconnects with backoff until
// the context is canceled.
type Gateway struct {
	url    string
	token  string
	log    logger.Logger
	events chan Event
}

func NewGateway(gatewayURL, token string, log logger.Logger) *Gateway {
	return &Gateway{
		url:    gatewayURL,
		token:  token,
		log:    log.WithFields(map[string]interface{}{"component": "gateway"}),
		events: make(chan Event, 64),
	}
}

// Events returns the stream of typed gateway events. The channel is
// closed after Run returns.
func (g *Gateway) Events() <-chan Event {
	return g.events
}

// Run connects and reads frames until ctx is canceled. Each disconnect is
// retried with exponential backoff capped at one minute.
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.events)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := g.dial(ctx)
		if err != nil {
			g.log.Warn("gateway dial failed", map[string]interface{}{
				"error":   err.Error(),
				"retryIn": backoff.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > time.Minute {
				backoff = time.Minute
			}
			continue
		}

		backoff = time.Second
		g.readLoop(ctx, conn)
		conn.Close()
	}
}

func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bot "+g.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, header)
	if err != nil {
		return nil, err
	}
	g.log.Info("gateway connected", map[string]interface{}{"url": g.url})
	return conn, nil
}

// readLoop reads frames until the connection breaks or ctx is canceled.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the context is canceled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				g.log.Warn("gateway read failed, reconnecting", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return
		}

		event, ok := g.decodeFrame(data)
		if !ok {
			continue
		}

		select {
		case g.events <- event:
		case <-ctx.Done():
			return
		}
	}
}

// decodeFrame validates and decodes one wire frame into a typed event.
func (g *Gateway) decodeFrame(data []byte) (Event, bool) {
	var frame gatewayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.GatewayFramesRejected.Inc()
		g.log.Warn("dropping malformed gateway frame", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, false
	}

	if err := validation.ValidateEventPayload(frame.Type, frame.Payload); err != nil {
		metrics.GatewayFramesRejected.Inc()
		g.log.Warn("dropping invalid gateway frame", map[string]interface{}{
			"eventType": frame.Type,
			"error":     err.Error(),
		})
		return nil, false
	}

	var event Event
	var err error
	switch frame.Type {
	case "ready":
		var e ReadyEvent
		err = json.Unmarshal(frame.Payload, &e)
		event = e
	case "member_joined":
		var e MemberJoinedEvent
		err = json.Unmarshal(frame.Payload, &e)
		event = e
	case "member_left":
		var e MemberLeftEvent
		err = json.Unmarshal(frame.Payload, &e)
		event = e
	case "command_invoked":
		var e CommandEvent
		err = json.Unmarshal(frame.Payload, &e)
		event = e
	case "direct_message":
		var e DirectMessageEvent
		err = json.Unmarshal(frame.Payload, &e)
		event = e
	}
	if err != nil {
		metrics.GatewayFramesRejected.Inc()
		g.log.Warn("dropping undecodable gateway frame", map[string]interface{}{
			"eventType": frame.Type,
			"error":     err.Error(),
		})
		return nil, false
	}
	return event, true
}
