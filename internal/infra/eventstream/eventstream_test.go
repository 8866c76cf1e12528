package eventstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/synapseshield/shield/internal/domain"
)

// collector gathers handled events.
type collector struct {
	mu     sync.Mutex
	events []string
	got    chan struct{}
}

func newCollector() *collector { return &collector{got: make(chan struct{}, 100)} }

func (c *collector) handle(_ context.Context, body []byte) error {
	c.mu.Lock()
	c.events = append(c.events, string(body))
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
}

// ─── ReaderSource ───────────────────────────────────────────────────────────

func TestReaderSource(t *testing.T) {
	input := "{\"deviceId\":\"a\"}\n\n   \n{\"deviceId\":\"b\"}\nnot json\n"
	c := newCollector()

	if err := NewReaderSource(strings.NewReader(input), nil).Run(context.Background(), c.handle); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	got := c.snapshot()
	want := []string{`{"deviceId":"a"}`, `{"deviceId":"b"}`, "not json"}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReaderSource_HandlerErrorsDoNotStop(t *testing.T) {
	var calls int
	handle := func(context.Context, []byte) error {
		calls++
		return errors.New("boom")
	}
	if err := NewReaderSource(strings.NewReader("1\n2\n3\n"), nil).Run(context.Background(), handle); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("handler called %d times, want 3", calls)
	}
}

func TestReaderSource_SkipsOversizeLine(t *testing.T) {
	huge := `{"deviceId":"` + strings.Repeat("x", 2*maxLine) + `"}`
	input := "{\"deviceId\":\"a\"}\n" + huge + "\n{\"deviceId\":\"b\"}"
	c := newCollector()

	if err := NewReaderSource(strings.NewReader(input), nil).Run(context.Background(), c.handle); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	got := c.snapshot()
	want := []string{`{"deviceId":"a"}`, `{"deviceId":"b"}`}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReaderSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewReaderSource(strings.NewReader("1\n"), nil).Run(ctx, newCollector().handle)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

// ─── WebSocketSource ────────────────────────────────────────────────────────

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFeed serves each connection the given messages, then holds it open.
func wsFeed(t *testing.T, msgs []string, groups chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if groups != nil {
			groups <- r.Header.Get(ConsumerGroupHeader)
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Block until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewWebSocketSource_RequiresURL(t *testing.T) {
	if _, err := NewWebSocketSource(WebSocketConfig{}, nil); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("NewWebSocketSource() error = %v, want ErrConfig", err)
	}
}

func TestWebSocketSource_DeliversEvents(t *testing.T) {
	groups := make(chan string, 4)
	srv := wsFeed(t, []string{`{"deviceId":"a"}`, `{"deviceId":"b"}`}, groups)

	src, err := NewWebSocketSource(WebSocketConfig{URL: wsURL(srv), ConsumerGroup: "shield"}, nil)
	if err != nil {
		t.Fatalf("NewWebSocketSource() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := newCollector()
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, c.handle) }()

	c.waitFor(t, 2)
	if g := <-groups; g != "shield" {
		t.Errorf("consumer group header = %q, want shield", g)
	}
	got := c.snapshot()
	if got[0] != `{"deviceId":"a"}` || got[1] != `{"deviceId":"b"}` {
		t.Errorf("events = %q", got)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestWebSocketSource_Reconnects(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		mu.Unlock()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"deviceId":"x"}`))
		// Drop the connection after one event
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	src, _ := NewWebSocketSource(WebSocketConfig{URL: wsURL(srv), MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newCollector()
	go src.Run(ctx, c.handle)

	c.waitFor(t, 3)
	mu.Lock()
	defer mu.Unlock()
	if conns < 3 {
		t.Errorf("connections = %d, want at least 3", conns)
	}
}

// ─── Listener ───────────────────────────────────────────────────────────────

// blockingSource emits one event then waits for cancellation.
type blockingSource struct{}

func (blockingSource) Run(ctx context.Context, handle domain.EventHandler) error {
	handle(ctx, []byte(`{}`))
	<-ctx.Done()
	return ctx.Err()
}

func TestListener_StartStop(t *testing.T) {
	c := newCollector()
	l := NewListener(blockingSource{}, c.handle, nil)

	if l.Status().Running {
		t.Fatal("listener running before Start")
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := l.Start(context.Background()); !errors.Is(err, domain.ErrListenerRunning) {
		t.Errorf("second Start() error = %v, want ErrListenerRunning", err)
	}

	c.waitFor(t, 1)
	st := l.Status()
	if !st.Running || st.Events != 1 || st.StartedAt.IsZero() {
		t.Errorf("Status() = %+v, want running with 1 event", st)
	}

	l.Stop()
	st = l.Status()
	if st.Running {
		t.Error("listener still running after Stop")
	}
	if st.LastError != "" {
		t.Errorf("LastError = %q, want empty after clean stop", st.LastError)
	}

	// Restartable after stop
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	l.Stop()
}

func TestListener_SourceEnds(t *testing.T) {
	c := newCollector()
	l := NewListener(NewReaderSource(strings.NewReader("{}\n{}\n"), nil), c.handle, nil)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	l.Wait()
	// Wait returns once done is closed; the goroutine clears state just before.
	st := l.Status()
	if st.Running {
		t.Error("listener should stop at end of input")
	}
	if st.Events != 2 {
		t.Errorf("Events = %d, want 2", st.Events)
	}
}
