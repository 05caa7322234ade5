package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/anonymizer"
	"github.com/raaihank/persondata/internal/config"
)

func startHub(t *testing.T, cfg config.WebSocketConfig) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.ActiveConnections() != n {
		if time.Now().After(deadline) {
			t.Fatalf("active connections = %d, want %d", hub.ActiveConnections(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type wireEvent struct {
	Type      EventType        `json:"type"`
	RequestID string           `json:"request_id"`
	Data      anonymizer.Event `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) (wireEvent, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return ev, raw
}

func TestPublishReachesClient(t *testing.T) {
	hub, srv := startHub(t, config.WebSocketConfig{})
	conn := dial(t, srv, nil)
	waitForClients(t, hub, 1)

	hub.Publish(anonymizer.Event{
		ID:         "ev-1",
		RequestID:  "req-1",
		Operation:  anonymizer.OperationAnonymize,
		Mode:       anonymizer.ModeNERPatterns,
		Labels:     []string{"person"},
		InputBytes: 29,
	})

	ev, raw := readEvent(t, conn)
	if ev.Type != EventTypeRedaction || ev.RequestID != "req-1" {
		t.Errorf("event = %s", raw)
	}
	if ev.Data.ID != "ev-1" || ev.Data.InputBytes != 29 {
		t.Errorf("data = %+v", ev.Data)
	}

	if st := hub.GetStats(); st.TotalConnections != 1 || st.ActiveConnections != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSubscriptionFilter(t *testing.T) {
	hub, srv := startHub(t, config.WebSocketConfig{})
	conn := dial(t, srv, nil)
	waitForClients(t, hub, 1)

	err := conn.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{
			"events": []string{"redaction"},
			"filter": map[string]interface{}{"fallbacks_only": true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	// the pong proves the subscription was processed
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if ev, raw := readEvent(t, conn); ev.Type != EventTypePong {
		t.Fatalf("got %s", raw)
	}

	hub.Publish(anonymizer.Event{ID: "skipped", Mode: anonymizer.ModeNERPatterns})
	hub.Publish(anonymizer.Event{ID: "kept", Mode: anonymizer.ModePatterns, FallbackReason: "model_load_timeout"})

	ev, raw := readEvent(t, conn)
	if ev.Data.ID != "kept" {
		t.Errorf("got %s", raw)
	}
}

func TestShouldSendToClient(t *testing.T) {
	redaction := Event{Type: EventTypeRedaction, Data: anonymizer.Event{Labels: []string{"email", "person"}}}
	status := Event{Type: EventTypeModelStatus}

	tests := []struct {
		name string
		sub  *SubscriptionRequest
		ev   Event
		want bool
	}{
		{"no subscription", nil, status, true},
		{"type not subscribed", &SubscriptionRequest{Events: []EventType{EventTypeRedaction}}, status, false},
		{"label match", &SubscriptionRequest{Filter: &EventFilter{Labels: []string{"person"}}}, redaction, true},
		{"label miss", &SubscriptionRequest{Filter: &EventFilter{Labels: []string{"cpr"}}}, redaction, false},
		{"filter ignores other types", &SubscriptionRequest{Filter: &EventFilter{Labels: []string{"cpr"}}}, status, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{}
			c.setSubscription(tt.sub)
			if got := shouldSendToClient(c, tt.ev); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleWebSocketAuth(t *testing.T) {
	_, srv := startHub(t, config.WebSocketConfig{Username: "admin", Password: "s3cret"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.SetBasicAuth("admin", "s3cret")
	dial(t, srv, req.Header)
}

func TestMaxConnections(t *testing.T) {
	hub, srv := startHub(t, config.WebSocketConfig{MaxConnections: 1})
	dial(t, srv, nil)
	waitForClients(t, hub, 1)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
	if hub.GetStats().RejectedClients != 1 {
		t.Errorf("stats = %+v", hub.GetStats())
	}
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{AllowedOrigins: []string{"https://dashboard.example.dk"}}, nil)

	tests := map[string]bool{
		"":                             true,
		"https://dashboard.example.dk": true,
		"https://evil.example.com":     false,
	}
	for origin, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := hub.checkOrigin(r); got != want {
			t.Errorf("checkOrigin(%q) = %v, want %v", origin, got, want)
		}
	}
}
