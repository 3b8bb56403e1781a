package transport

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

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSStreamSubscribesAndForwardsFrames(t *testing.T) {
	subscribes := make(chan wsSubscribeRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req wsSubscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		subscribes <- req

		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"result":null,"id":1}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"e":"depthUpdate","market_id":"tBTC_tUSD"}`))
		<-ctx.Done()
	}))
	defer server.Close()

	stream := NewWSStream(WSOptions{
		URL:    wsURL(server),
		Topics: []string{"order_book_diff:TBTC-TUSD", "trade:TBTC-TUSD"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := stream.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		cancel()
		stream.Close()
	}()

	select {
	case req := <-subscribes:
		if req.Method != "SUBSCRIBE" {
			t.Errorf("method = %q, want SUBSCRIBE", req.Method)
		}
		if len(req.Params) != 2 {
			t.Errorf("params = %v, want both topics", req.Params)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscribe request")
	}

	for _, want := range []string{`{"result":null,"id":1}`, `{"e":"depthUpdate","market_id":"tBTC_tUSD"}`} {
		select {
		case frame := <-stream.Frames():
			if string(frame) != want {
				t.Errorf("frame = %s, want %s", frame, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
}

func TestWSStreamReconnectsAndResubscribes(t *testing.T) {
	var connections atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		if _, _, err := conn.Read(ctx); err != nil {
			conn.CloseNow()
			return
		}
		n := connections.Add(1)
		if n == 1 {
			// Drop the first connection to force a reconnect.
			conn.CloseNow()
			return
		}
		defer conn.CloseNow()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"after":"reconnect"}`))
		<-ctx.Done()
	}))
	defer server.Close()

	stream := NewWSStream(WSOptions{
		URL:    wsURL(server),
		Topics: []string{"trade:TBTC-TUSD"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := stream.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		cancel()
		stream.Close()
	}()

	select {
	case frame := <-stream.Frames():
		if string(frame) != `{"after":"reconnect"}` {
			t.Errorf("frame = %s", frame)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for post-reconnect frame")
	}
	if got := connections.Load(); got < 2 {
		t.Errorf("connections = %d, want at least 2", got)
	}
}

func TestWSStreamStartTwiceFails(t *testing.T) {
	stream := NewWSStream(WSOptions{URL: "ws://127.0.0.1:1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := stream.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := stream.Start(ctx); err == nil {
		t.Error("second Start must fail")
	}
	cancel()
	stream.Close()
}
