package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/pkg/logger"
)

// RealtimeNotifier pushes level-up events to the platform's realtime
// gateway over a websocket. The connection is dialed lazily on the first
// emit and re-dialed on the next emit after a failure.
type RealtimeNotifier struct {
	mu    sync.Mutex
	url   string
	topic string
	conn  *websocket.Conn
	done  chan struct{}
	ref   int
	log   *logger.Logger
}

// NewRealtimeNotifier creates a websocket sink for the gateway at the given
// URL. HTTP schemes are converted to their websocket counterparts.
func NewRealtimeNotifier(gatewayURL, topic string, log *logger.Logger) *RealtimeNotifier {
	if log == nil {
		log = logger.NewDefault("notify-realtime")
	}
	if topic == "" {
		topic = "progression:levelups"
	}

	wsURL := gatewayURL
	if strings.HasPrefix(wsURL, "https") {
		wsURL = "wss" + wsURL[5:]
	} else if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:]
	}

	return &RealtimeNotifier{url: wsURL, topic: topic, log: log}
}

func (n *RealtimeNotifier) Name() string { return "realtime" }

func (n *RealtimeNotifier) Emit(ctx context.Context, event progression.LevelUpEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.ensureConnLocked(ctx); err != nil {
		return err
	}

	n.ref++
	msg := map[string]any{
		"topic":   n.topic,
		"event":   "level_up",
		"payload": event,
		"ref":     fmt.Sprintf("%d", n.ref),
	}
	if err := n.conn.WriteJSON(msg); err != nil {
		// Drop the connection; the next emit re-dials.
		n.closeLocked()
		return fmt.Errorf("send level-up event: %w", err)
	}
	return nil
}

func (n *RealtimeNotifier) ensureConnLocked(ctx context.Context) error {
	if n.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, n.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	n.conn = conn
	n.done = make(chan struct{})

	n.ref++
	join := map[string]any{
		"topic":    n.topic,
		"event":    "phx_join",
		"payload":  map[string]any{},
		"ref":      fmt.Sprintf("%d", n.ref),
		"join_ref": fmt.Sprintf("%d", n.ref),
	}
	if err := conn.WriteJSON(join); err != nil {
		n.closeLocked()
		return fmt.Errorf("join topic: %w", err)
	}

	go n.heartbeat(n.done)
	go drain(conn)

	n.log.WithField("topic", n.topic).Info("realtime gateway connected")
	return nil
}

func (n *RealtimeNotifier) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n.mu.Lock()
			if n.conn != nil {
				n.ref++
				msg := map[string]any{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     fmt.Sprintf("%d", n.ref),
				}
				n.conn.WriteJSON(msg)
			}
			n.mu.Unlock()
		}
	}
}

// drain consumes inbound frames so control messages are processed. It exits
// when the connection errors out.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (n *RealtimeNotifier) closeLocked() {
	if n.done != nil {
		close(n.done)
		n.done = nil
	}
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}

// Close shuts the connection down cleanly.
func (n *RealtimeNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}
	err := n.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	n.closeLocked()
	return err
}
