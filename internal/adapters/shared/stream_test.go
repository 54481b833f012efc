package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
)

func encodeJSONSubscribe(topics []string) ([]byte, error) {
	return json.Marshal(map[string]any{"op": "subscribe", "args": topics})
}

func TestChunkTopics(t *testing.T) {
	cases := []struct {
		name   string
		topics []string
		size   int
		want   int
	}{
		{"empty", nil, 10, 0},
		{"no limit", []string{"a", "b", "c"}, 0, 1},
		{"under limit", []string{"a", "b"}, 5, 1},
		{"exact split", []string{"a", "b", "c", "d"}, 2, 2},
		{"remainder", []string{"a", "b", "c"}, 2, 2},
	}
	for _, tc := range cases {
		chunks := chunkTopics(tc.topics, tc.size)
		if len(chunks) != tc.want {
			t.Errorf("%s: chunkTopics() produced %d chunks, want %d", tc.name, len(chunks), tc.want)
		}
		total := 0
		for _, chunk := range chunks {
			total += len(chunk)
		}
		if total != len(tc.topics) {
			t.Errorf("%s: chunks carry %d topics, want %d", tc.name, total, len(tc.topics))
		}
	}
}

func TestSubscribeWithoutConnectionKeepsTopic(t *testing.T) {
	sm := NewStreamManager(context.Background(), StreamConfig{
		Venue:           "test",
		URL:             "ws://127.0.0.1:0",
		EncodeSubscribe: encodeJSONSubscribe,
	}, nil)
	defer sm.Stop()

	if err := sm.Subscribe([]string{"tickers.BTCUSDT"}); err == nil {
		t.Error("expected error when not connected")
	}
	// The topic is retained and will be applied on the next connect.
	if got := len(sm.Topics()); got != 1 {
		t.Fatalf("Topics() len = %d, want 1", got)
	}
}

func TestStreamManagerResubscribesAfterReconnect(t *testing.T) {
	frames := make(chan string, 4)
	received := make(chan string, 1)
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		ctx := r.Context()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		frames <- string(data)

		if n == 1 {
			// Drop the first connection to force a reconnect.
			conn.Close(websocket.StatusInternalError, "drop")
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"last":"42"}`))
		<-ctx.Done()
	}))
	defer srv.Close()

	var reconnects atomic.Int32
	sm := NewStreamManager(context.Background(), StreamConfig{
		Venue:           "test",
		URL:             strings.Replace(srv.URL, "http", "ws", 1),
		ReconnectDelay:  10 * time.Millisecond,
		EncodeSubscribe: encodeJSONSubscribe,
		Handler: func(data []byte) error {
			select {
			case received <- string(data):
			default:
			}
			return nil
		},
		OnReconnect: func() { reconnects.Add(1) },
	}, nil)
	defer sm.Stop()

	if err := sm.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sm.Subscribe([]string{"tickers.BTCUSDT"}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	waitFrame := func(label string) string {
		select {
		case frame := <-frames:
			return frame
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", label)
			return ""
		}
	}

	first := waitFrame("initial subscribe frame")
	second := waitFrame("resubscribe frame")
	if first != second {
		t.Errorf("resubscribe frame %q differs from original %q", second, first)
	}

	select {
	case data := <-received:
		if data != `{"last":"42"}` {
			t.Errorf("handler received %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for data frame after reconnect")
	}

	if got := reconnects.Load(); got != 1 {
		t.Errorf("reconnect hook fired %d times, want 1", got)
	}
}

func TestStreamManagerStartTimeout(t *testing.T) {
	sm := NewStreamManager(context.Background(), StreamConfig{
		Venue:           "test",
		URL:             "ws://127.0.0.1:1",
		DialTimeout:     50 * time.Millisecond,
		ReconnectDelay:  time.Hour,
		EncodeSubscribe: encodeJSONSubscribe,
	}, nil)
	defer sm.Stop()

	if err := sm.Start(); err == nil {
		t.Fatal("expected Start to time out against unreachable endpoint")
	}
}
