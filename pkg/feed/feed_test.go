package feed

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/statarb/pkg/models"
	"github.com/gregtusar/statarb/pkg/rates"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
	ch     chan models.Event
}

func newRecorder() *recorder { return &recorder{ch: make(chan models.Event, 16)} }

func (r *recorder) Submit(_ context.Context, e models.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.ch <- e
	return nil
}

func (r *recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

var ts = time.Unix(1700000000, 0).UTC()

func indexServer(t *testing.T, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		token := strings.TrimPrefix(r.URL.Path, "/v1/liquidity-index/")
		if token == "MISSING" {
			http.Error(w, "unknown token", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"token":     token,
			"timestamp": ts,
			"index":     1.0125,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientGetLiquidityIndex(t *testing.T) {
	var headers http.Header
	srv := indexServer(t, func(r *http.Request) { headers = r.Header.Clone() })

	client := NewClient(srv.URL, NewLegacyAuthenticator("key", "secret", "pass"), 0, 0)
	obs, err := client.GetLiquidityIndex(context.Background(), "USDC")
	require.NoError(t, err)

	assert.Equal(t, models.RateObservation{Token: "USDC", Timestamp: ts, Index: 1.0125}, obs)
	assert.Equal(t, "key", headers.Get("FEED-ACCESS-KEY"))
	assert.Equal(t, "pass", headers.Get("FEED-ACCESS-PASSPHRASE"))
	stamp := headers.Get("FEED-ACCESS-TIMESTAMP")
	assert.Equal(t, computeHMAC(stamp+"GET/v1/liquidity-index/USDC", "secret"), headers.Get("FEED-ACCESS-SIGN"))
}

func TestClientStatusError(t *testing.T) {
	srv := indexServer(t, nil)
	_, err := NewClient(srv.URL, nil, 10, 1).GetLiquidityIndex(context.Background(), "MISSING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClientRespectsContext(t *testing.T) {
	srv := indexServer(t, nil)
	client := NewClient(srv.URL, nil, 0.001, 1)
	_, err := client.GetLiquidityIndex(context.Background(), "A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.GetLiquidityIndex(ctx, "A")
	assert.Error(t, err, "limiter wait exceeds the deadline")
}

func testKeyPEM(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
}

func TestJWTAuthenticator(t *testing.T) {
	key, keyPEM := testKeyPEM(t)
	auth, err := NewJWTAuthenticator("keys/abc", keyPEM)
	require.NoError(t, err)

	raw, err := auth.GenerateJWT("GET", "rates.example.com", "/v1/liquidity-index/USDC")
	require.NoError(t, err)

	parsed, err := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "keys/abc", claims["sub"])
	assert.Equal(t, "statarb-feed", claims["iss"])
	assert.Equal(t, "GET rates.example.com/v1/liquidity-index/USDC", claims["uri"])
	assert.Equal(t, "keys/abc", parsed.Header["kid"])
}

func TestJWTAuthenticatorBadPEM(t *testing.T) {
	_, err := NewJWTAuthenticator("k", "not a key")
	assert.Error(t, err)
}

func TestNewAuthenticator(t *testing.T) {
	a, err := NewAuthenticator(AuthTypeNone, Credentials{})
	require.NoError(t, err)
	assert.IsType(t, NoAuth{}, a)

	a, err = NewAuthenticator(AuthTypeLegacy, Credentials{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	assert.IsType(t, &LegacyAuthenticator{}, a)

	_, err = NewAuthenticator("oauth", Credentials{})
	assert.Error(t, err)
}

func TestPollerPoll(t *testing.T) {
	srv := indexServer(t, nil)
	store := rates.NewWindowStore(8)
	rec := newRecorder()
	p := NewPoller(NewClient(srv.URL, nil, 0, 0), []string{"A", "B"}, store, rec, time.Hour, quietLogger())

	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 1, store.Len("A"))
	assert.Equal(t, 1, store.Len("B"))
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, models.NewMarketEvent(ts), rec.Events()[0])

	// Same timestamps again: nothing new is stored, so no event.
	require.NoError(t, p.Poll(context.Background()))
	assert.Len(t, rec.Events(), 1)
}

func TestPollerSkipsIncompleteRound(t *testing.T) {
	srv := indexServer(t, nil)
	store := rates.NewWindowStore(8)
	rec := newRecorder()
	p := NewPoller(NewClient(srv.URL, nil, 0, 0), []string{"A", "MISSING", "B"}, store, rec, time.Hour, quietLogger())

	require.NoError(t, p.Poll(context.Background()))
	// The tokens that did answer are kept for the next round.
	assert.Equal(t, 1, store.Len("A"))
	assert.Equal(t, 1, store.Len("B"))
	assert.Equal(t, 0, store.Len("MISSING"))
	assert.Empty(t, rec.Events())
}

func TestWebSocketClientStreamsRates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan SubscribeMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub SubscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		_ = conn.WriteJSON(WSMessage{Type: "heartbeat", Time: ts})
		_ = conn.WriteJSON(WSMessage{Type: "rates", Time: ts, Rates: []models.RateObservation{
			{Token: "A", Timestamp: ts, Index: 1.01},
			{Token: "B", Timestamp: ts.Add(time.Second), Index: 1.02},
		}})
		// Hold the connection open until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	store := rates.NewWindowStore(8)
	rec := newRecorder()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws := NewWebSocketClient(url, []string{"A", "B"}, Credentials{APIKey: "k", APISecret: "s", Passphrase: "p"}, store, rec, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx, 10*time.Millisecond, 1) }()

	select {
	case sub := <-subscribed:
		assert.Equal(t, []string{"A", "B"}, sub.Tokens)
		assert.Equal(t, []string{"liquidity_index"}, sub.Channels)
		assert.Equal(t, "k", sub.Key)
		assert.NotEmpty(t, sub.Signature)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription")
	}

	select {
	case ev := <-rec.ch:
		assert.Equal(t, models.EventMarket, ev.Type)
		assert.Equal(t, ts.Add(time.Second), ev.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("no market event")
	}
	assert.Equal(t, 1, store.Len("A"))
	assert.Equal(t, 1, store.Len("B"))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("websocket did not stop")
	}
}

func TestWebSocketHandleError(t *testing.T) {
	ws := NewWebSocketClient("ws://unused", nil, Credentials{}, rates.NewWindowStore(1), newRecorder(), quietLogger())
	err := ws.handleMessage(context.Background(), WSMessage{Type: "error", Message: "bad token"})
	assert.ErrorContains(t, err, "bad token")
	assert.NoError(t, ws.handleMessage(context.Background(), WSMessage{Type: "heartbeat"}))
}

func TestWebSocketWaitsForEveryToken(t *testing.T) {
	store := rates.NewWindowStore(8)
	rec := newRecorder()
	ws := NewWebSocketClient("ws://unused", []string{"A", "B"}, Credentials{}, store, rec, quietLogger())
	ctx := context.Background()
	rate := func(token string, at time.Time) WSMessage {
		return WSMessage{Type: "rates", Time: ts, Rates: []models.RateObservation{{Token: token, Timestamp: at, Index: 1.01}}}
	}

	require.NoError(t, ws.handleMessage(ctx, rate("A", ts)))
	assert.Empty(t, rec.Events(), "only A updated")

	// A duplicate A and an unsubscribed token do not complete the update.
	require.NoError(t, ws.handleMessage(ctx, rate("A", ts)))
	require.NoError(t, ws.handleMessage(ctx, rate("C", ts)))
	assert.Empty(t, rec.Events())

	require.NoError(t, ws.handleMessage(ctx, rate("B", ts.Add(time.Second))))
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, models.NewMarketEvent(ts.Add(time.Second)), rec.Events()[0])
	assert.Equal(t, 1, store.Len("A"))
	assert.Equal(t, 1, store.Len("B"))

	// The next cycle starts from scratch.
	next := ts.Add(time.Minute)
	require.NoError(t, ws.handleMessage(ctx, rate("B", next)))
	assert.Len(t, rec.Events(), 1)
	require.NoError(t, ws.handleMessage(ctx, rate("A", next)))
	require.Len(t, rec.Events(), 2)
	assert.Equal(t, next, rec.Events()[1].Timestamp)
}
