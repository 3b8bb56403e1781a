package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
)

// Stream supplies raw JSON payload frames from the exchange push channel.
type Stream interface {
	Frames() <-chan []byte
	Errors() <-chan error
}

// WSOptions configure the websocket stream.
type WSOptions struct {
	URL         string
	Topics      []string
	DialTimeout time.Duration
	Buffer      int
}

// WSStream maintains a websocket connection with automatic reconnection and
// resubscription, forwarding every received text frame unfiltered. Routing
// (including dropping subscription acknowledgements) belongs to the
// market-data adapter, not the transport.
type WSStream struct {
	opts   WSOptions
	frames chan []byte
	errc   chan error

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	connMu   sync.RWMutex
	conn     *websocket.Conn
	msgIDGen atomic.Uint64
}

type wsSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// NewWSStream constructs a websocket stream client.
func NewWSStream(opts WSOptions) *WSStream {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 128
	}
	return &WSStream{
		opts:   opts,
		frames: make(chan []byte, opts.Buffer),
		errc:   make(chan error, 8),
		done:   make(chan struct{}),
	}
}

// Frames implements Stream.
func (s *WSStream) Frames() <-chan []byte { return s.frames }

// Errors implements Stream.
func (s *WSStream) Errors() <-chan error { return s.errc }

// Start launches the connection loop. It returns immediately; frames arrive
// on Frames() once the first dial succeeds.
func (s *WSStream) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("ws stream already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		defer close(s.frames)
		defer close(s.errc)
		s.connect(runCtx)
	}()
	return nil
}

// Close stops the stream and waits for the connection loop to exit.
func (s *WSStream) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.started.Load() {
		<-s.done
	}
}

// connect dials the endpoint and keeps it alive with exponential backoff,
// resubscribing to all topics after every reconnect.
func (s *WSStream) connect(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dialCtx, cancelDial := context.WithTimeout(ctx, s.opts.DialTimeout)
		conn, _, err := websocket.Dial(dialCtx, s.opts.URL, nil)
		cancelDial()
		if err != nil {
			s.reportError(ctx, fmt.Errorf("dial %s: %w", s.opts.URL, err))
			if !s.sleep(ctx, policy.NextBackOff()) {
				return
			}
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		policy.Reset()

		if err := s.subscribe(ctx, conn); err != nil {
			s.reportError(ctx, fmt.Errorf("subscribe after connect: %w", err))
		}

		if err := s.readLoop(ctx, conn); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.reportError(ctx, fmt.Errorf("read loop: %w", err))
		}

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()

		if !s.sleep(ctx, policy.NextBackOff()) {
			return
		}
	}
}

func (s *WSStream) subscribe(ctx context.Context, conn *websocket.Conn) error {
	if len(s.opts.Topics) == 0 {
		return nil
	}
	req := wsSubscribeRequest{
		Method: "SUBSCRIBE",
		Params: s.opts.Topics,
		ID:     s.msgIDGen.Add(1),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal subscribe request: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *WSStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		frame := make([]byte, len(data))
		copy(frame, data)
		select {
		case <-ctx.Done():
			return context.Canceled
		case s.frames <- frame:
		}
	}
}

func (s *WSStream) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *WSStream) reportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	select {
	case <-ctx.Done():
	case s.errc <- err:
	default:
	}
}
