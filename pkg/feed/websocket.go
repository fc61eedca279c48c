package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/statarb/pkg/models"
)

// WebSocketClient streams liquidity index updates. A MARKET event is
// submitted once every subscribed token has a new stored observation, which
// may take one "rates" message or several.
type WebSocketClient struct {
	url       string
	tokens    []string
	signer    *LegacyAuthenticator
	apiKey    string
	store     Store
	out       Submitter
	conn      *websocket.Conn
	mu        sync.Mutex
	connected bool
	logger    *logrus.Logger

	// touched and touchedAt are owned by the read loop.
	touched   map[string]struct{}
	touchedAt time.Time
}

type WSMessage struct {
	Type    string                   `json:"type"`
	Time    time.Time                `json:"time"`
	Rates   []models.RateObservation `json:"rates,omitempty"`
	Message string                   `json:"message,omitempty"`
}

type SubscribeMessage struct {
	Type       string   `json:"type"`
	Tokens     []string `json:"tokens"`
	Channels   []string `json:"channels"`
	Signature  string   `json:"signature,omitempty"`
	Key        string   `json:"key,omitempty"`
	Passphrase string   `json:"passphrase,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

func NewWebSocketClient(url string, tokens []string, creds Credentials, store Store, out Submitter, logger *logrus.Logger) *WebSocketClient {
	ws := &WebSocketClient{
		url:    url,
		tokens: tokens,
		store:  store,
		out:    out,
		logger: logger,

		touched: make(map[string]struct{}, len(tokens)),
	}
	if creds.APISecret != "" {
		ws.signer = NewLegacyAuthenticator(creds.APIKey, creds.APISecret, creds.Passphrase)
		ws.apiKey = creds.APIKey
	}
	return ws
}

func (ws *WebSocketClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, ws.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	ws.conn = conn
	ws.connected = true
	return nil
}

func (ws *WebSocketClient) Subscribe() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if !ws.connected {
		return fmt.Errorf("websocket not connected")
	}

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	sub := SubscribeMessage{
		Type:      "subscribe",
		Tokens:    ws.tokens,
		Channels:  []string{"liquidity_index"},
		Timestamp: timestamp,
	}
	if ws.signer != nil {
		sub.Key = ws.apiKey
		sub.Passphrase = ws.signer.passphrase
		sub.Signature = ws.signer.Sign(timestamp + "GET" + "/users/self/verify")
	}
	return ws.conn.WriteJSON(sub)
}

// Run connects, subscribes and reads until ctx is done, reconnecting after
// reconnectDelay up to maxReconnects times in a row.
func (ws *WebSocketClient) Run(ctx context.Context, reconnectDelay time.Duration, maxReconnects int) error {
	failures := 0
	for {
		err := ws.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failures++
		if maxReconnects > 0 && failures > maxReconnects {
			return fmt.Errorf("websocket gave up after %d reconnects: %w", maxReconnects, err)
		}
		ws.logger.WithError(err).WithField("attempt", failures).Warn("Websocket session ended, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (ws *WebSocketClient) session(ctx context.Context) error {
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	defer ws.handleDisconnect()
	if err := ws.Subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.handleDisconnect()
		case <-done:
		}
	}()
	return ws.readLoop(ctx, conn)
}

func (ws *WebSocketClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read websocket message: %w", err)
		}
		if err := ws.handleMessage(ctx, msg); err != nil {
			ws.logger.WithError(err).Error("Handler error")
		}
	}
}

func (ws *WebSocketClient) handleMessage(ctx context.Context, msg WSMessage) error {
	switch msg.Type {
	case "rates":
		if msg.Time.After(ws.touchedAt) {
			ws.touchedAt = msg.Time
		}
		for _, obs := range msg.Rates {
			if err := ws.store.Add(obs); err != nil {
				ws.logger.WithError(err).WithField("token", obs.Token).Debug("Dropped observation")
				continue
			}
			if ws.subscribed(obs.Token) {
				ws.touched[obs.Token] = struct{}{}
			}
			if obs.Timestamp.After(ws.touchedAt) {
				ws.touchedAt = obs.Timestamp
			}
		}
		if len(ws.touched) < len(ws.tokens) {
			return nil
		}
		latest := ws.touchedAt
		ws.touched = make(map[string]struct{}, len(ws.tokens))
		ws.touchedAt = time.Time{}
		return ws.out.Submit(ctx, models.NewMarketEvent(latest))
	case "error":
		return fmt.Errorf("feed error: %s", msg.Message)
	default:
		return nil
	}
}

func (ws *WebSocketClient) subscribed(token string) bool {
	for _, t := range ws.tokens {
		if t == token {
			return true
		}
	}
	return false
}

func (ws *WebSocketClient) handleDisconnect() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.connected = false
	if ws.conn != nil {
		ws.conn.Close()
		ws.conn = nil
	}
}
