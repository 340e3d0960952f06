package deriv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "digitflow/config"
	"digitflow/internal/catalog"
	"digitflow/internal/engine"
	"digitflow/models"
	"digitflow/processor"

	"github.com/gorilla/websocket"
)

type fakeTracker struct {
	mu      sync.Mutex
	entries []catalog.Entry
}

func (f *fakeTracker) Subscriptions() []processor.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]processor.Subscription, len(f.entries))
	for i, e := range f.entries {
		out[i] = processor.Subscription{Symbol: e.Symbol, Mode: engine.New(e.Symbol).Mode()}
	}
	return out
}

func (f *fakeTracker) Replace(entries []catalog.Entry) {
	f.mu.Lock()
	f.entries = entries
	f.mu.Unlock()
}

type upstream struct {
	srv      *httptest.Server
	requests chan map[string]any
}

// newUpstream answers a R_10 ticks subscription with a garbage frame followed
// by one tick, and records every request it receives with its arrival time
// under "received_at".
func newUpstream(t *testing.T, dropFirst bool) *upstream {
	t.Helper()
	u := &upstream{requests: make(chan map[string]any, 64)}
	var mu sync.Mutex
	first := true

	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("app_id") != "1089" {
			http.Error(w, "missing app_id", http.StatusBadRequest)
			return
		}
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		closeNow := dropFirst && first
		first = false
		mu.Unlock()
		if closeNow {
			return
		}

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]any
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			req["received_at"] = time.Now()
			u.requests <- req
			if req["ticks"] == "R_10" {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"tick":`))
				conn.WriteMessage(websocket.TextMessage, []byte(`{"msg_type":"tick","tick":{"symbol":"R_10","quote":6543.217,"epoch":1700000000,"pip_size":3}}`))
			}
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) config() appconfig.StreamConfig {
	cfg := appconfig.Default().Stream
	cfg.URL = "ws" + strings.TrimPrefix(u.srv.URL, "http")
	cfg.SubscribeStagger = time.Millisecond
	cfg.Reconnect.Delay = 10 * time.Millisecond
	return cfg
}

func (u *upstream) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case req := <-u.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
		return nil
	}
}

func startSession(t *testing.T, cfg appconfig.StreamConfig, tracker Tracker) (*Session, chan models.Event, context.CancelFunc) {
	t.Helper()
	events := make(chan models.Event, 16)
	sink := func(ctx context.Context, ev models.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	s := NewSession(cfg, tracker, sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			t.Errorf("run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("session did not stop")
		}
	})
	return s, events, cancel
}

func TestSessionSubscribesAndDeliversTicks(t *testing.T) {
	u := newUpstream(t, false)
	entries, _ := catalog.Select([]string{"R_10", "BOOM500"})
	_, events, _ := startSession(t, u.config(), &fakeTracker{entries: entries})

	first := u.next(t)
	if first["ticks"] != "R_10" || first["subscribe"] != float64(1) {
		t.Fatalf("first request = %v", first)
	}
	second := u.next(t)
	if second["ticks_history"] != "BOOM500" || second["style"] != "candles" || second["granularity"] != float64(60) || second["count"] != float64(30) {
		t.Fatalf("second request = %v", second)
	}

	select {
	case ev := <-events:
		if ev.Kind != models.EventTick || ev.Symbol != "R_10" || ev.PipSize != 3 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}
}

func TestSessionStaggersSubscriptions(t *testing.T) {
	u := newUpstream(t, false)
	entries, _ := catalog.Select([]string{"R_25", "R_50"})
	cfg := u.config()
	cfg.SubscribeStagger = 30 * time.Millisecond
	startSession(t, cfg, &fakeTracker{entries: entries})

	first, second := u.next(t), u.next(t)
	if first["ticks"] != "R_25" || second["ticks"] != "R_50" {
		t.Fatalf("requests = %v, %v", first, second)
	}
	gap := second["received_at"].(time.Time).Sub(first["received_at"].(time.Time))
	// Allow for delivery jitter on the first frame.
	if gap < cfg.SubscribeStagger-5*time.Millisecond {
		t.Fatalf("subscriptions %v apart, want at least %v", gap, cfg.SubscribeStagger)
	}
}

func TestSessionSwitchForgetsAndResubscribes(t *testing.T) {
	u := newUpstream(t, false)
	entries, _ := catalog.Select([]string{"JUMP_10"})
	tracker := &fakeTracker{entries: entries}
	s, _, _ := startSession(t, u.config(), tracker)

	if req := u.next(t); req["ticks_history"] != "JUMP_10" {
		t.Fatalf("initial request = %v", req)
	}

	if err := s.Switch(context.Background(), "R_25"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	want := []string{"ticks", "candles"}
	for _, stream := range want {
		if req := u.next(t); req["forget_all"] != stream {
			t.Fatalf("expected forget_all %s, got %v", stream, req)
		}
	}
	if req := u.next(t); req["ticks"] != "R_25" {
		t.Fatalf("resubscribe request = %v", req)
	}
	if subs := tracker.Subscriptions(); len(subs) != 1 || subs[0].Symbol != "R_25" {
		t.Fatalf("tracker not replaced: %+v", subs)
	}

	if err := s.Switch(context.Background(), "NOPE"); err == nil {
		t.Fatalf("expected error for unknown instrument")
	}
}

func TestSessionReconnects(t *testing.T) {
	u := newUpstream(t, true)
	entries, _ := catalog.Select([]string{"R_10"})
	s, _, _ := startSession(t, u.config(), &fakeTracker{entries: entries})

	if req := u.next(t); req["ticks"] != "R_10" {
		t.Fatalf("request after reconnect = %v", req)
	}
	if s.Connects() < 2 {
		t.Fatalf("connects = %d, want at least 2", s.Connects())
	}
}

func TestNextDelayStrategies(t *testing.T) {
	cfg := appconfig.Default().Stream
	s := NewSession(cfg, &fakeTracker{}, nil)
	if d := s.nextDelay(); d != 5*time.Second {
		t.Fatalf("fixed delay = %v", d)
	}

	cfg.Reconnect.Strategy = appconfig.ReconnectExponential
	cfg.Reconnect.Delay = 100 * time.Millisecond
	cfg.Reconnect.MaxDelay = 300 * time.Millisecond
	cfg.Reconnect.Multiplier = 2
	s = NewSession(cfg, &fakeTracker{}, nil)
	got := []time.Duration{s.nextDelay(), s.nextDelay(), s.nextDelay(), s.nextDelay()}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff steps = %v, want %v", got, want)
		}
	}
}

func TestEndpointAddsAppID(t *testing.T) {
	s := NewSession(appconfig.Default().Stream, &fakeTracker{}, nil)
	got, err := s.Endpoint()
	if err != nil || got != "wss://ws.binaryws.com/websockets/v3?app_id=1089" {
		t.Fatalf("endpoint = %s, %v", got, err)
	}
}
