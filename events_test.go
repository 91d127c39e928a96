package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSource is an in-memory change topic
type fakeSource struct {
	mu        sync.Mutex
	listeners map[int]func(FileChangeEvent)
	next      int
}

func newFakeSource() *fakeSource {
	return &fakeSource{listeners: make(map[int]func(FileChangeEvent))}
}

func (f *fakeSource) Subscribe(fn func(FileChangeEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeSource) publish(ev FileChangeEvent) {
	f.mu.Lock()
	fns := make([]func(FileChangeEvent), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type sseMessage struct {
	event string
	data  string
}

// readSSE returns the next event or comment from the stream
func readSSE(t *testing.T, r *bufio.Reader) sseMessage {
	t.Helper()
	var msg sseMessage
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if msg != (sseMessage{}) {
				return msg
			}
		case strings.HasPrefix(line, ":"):
			msg.event = ":comment"
			msg.data = strings.TrimSpace(strings.TrimPrefix(line, ":"))
		case strings.HasPrefix(line, "event: "):
			msg.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			msg.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// newHubServer serves hub over HTTP. The server is closed in a cleanup
// registered before any stream is opened, so stream cleanups cancel their
// requests first and Close does not wait on a live stream.
func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return srv
}

// openStream connects to the hub and returns the response reader and a cancel func
func openStream(t *testing.T, url string) (*bufio.Reader, *http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return bufio.NewReader(resp.Body), resp, cancel
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_ConnectedThenEventsInOrder(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, time.Hour, discardLogger())
	srv := newHubServer(t, hub)

	r, resp, _ := openStream(t, srv.URL)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	first := readSSE(t, r)
	if first.event != eventConnected || first.data != "{}" {
		t.Fatalf("expected connected event first, got %+v", first)
	}
	if source.count() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", source.count())
	}

	sent := []FileChangeEvent{
		{Kind: ChangeAdded, File: "a.md"},
		{Kind: ChangeChanged, File: "docs/b.md"},
		{Kind: ChangeRemoved, File: "a.md"},
	}
	for _, ev := range sent {
		source.publish(ev)
	}

	for i, want := range sent {
		msg := readSSE(t, r)
		if msg.event != eventFileChange {
			t.Fatalf("event %d: expected %s, got %+v", i, eventFileChange, msg)
		}
		var got FileChangeEvent
		if err := json.Unmarshal([]byte(msg.data), &got); err != nil {
			t.Fatalf("event %d: bad payload %q: %v", i, msg.data, err)
		}
		if got != want {
			t.Errorf("event %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestHub_FanOut(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, time.Hour, discardLogger())
	srv := newHubServer(t, hub)

	r1, _, _ := openStream(t, srv.URL)
	r2, _, _ := openStream(t, srv.URL)
	readSSE(t, r1)
	readSSE(t, r2)
	waitFor(t, "two clients", func() bool { return hub.Clients() == 2 })

	source.publish(FileChangeEvent{Kind: ChangeChanged, File: "shared.md"})
	for _, r := range []*bufio.Reader{r1, r2} {
		msg := readSSE(t, r)
		assertContains(t, msg.data, `"file":"shared.md"`)
	}
}

func TestHub_DisconnectUnsubscribes(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, time.Hour, discardLogger())
	srv := newHubServer(t, hub)

	r, _, cancel := openStream(t, srv.URL)
	readSSE(t, r)
	if hub.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Clients())
	}

	cancel()
	waitFor(t, "unsubscribe", func() bool { return source.count() == 0 && hub.Clients() == 0 })

	// publishing with no subscribers is harmless
	source.publish(FileChangeEvent{Kind: ChangeAdded, File: "late.md"})
}

func TestHub_Heartbeat(t *testing.T) {
	hub := NewHub(nil, 20*time.Millisecond, discardLogger())
	srv := newHubServer(t, hub)

	r, _, _ := openStream(t, srv.URL)
	if msg := readSSE(t, r); msg.event != eventConnected {
		t.Fatalf("expected connected event, got %+v", msg)
	}
	msg := readSSE(t, r)
	if msg.event != ":comment" || msg.data != "heartbeat" {
		t.Errorf("expected heartbeat comment, got %+v", msg)
	}
}

// blockingWriter stalls every write after the first until released
type blockingWriter struct {
	header  http.Header
	mu      sync.Mutex
	buf     bytes.Buffer
	writes  int
	release chan struct{}
}

func (b *blockingWriter) Header() http.Header { return b.header }
func (b *blockingWriter) WriteHeader(int)     {}
func (b *blockingWriter) Flush()              {}

func (b *blockingWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.writes++
	n := b.writes
	b.mu.Unlock()
	if n > 1 {
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *blockingWriter) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// TestHub_SlowClientDisconnected checks a client that cannot keep up is closed
// rather than blocking the publisher or silently losing events
func TestHub_SlowClientDisconnected(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, time.Hour, discardLogger())

	w := &blockingWriter{header: make(http.Header), release: make(chan struct{})}
	req := httptest.NewRequest(http.MethodGet, "/api/changes", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.ServeHTTP(w, req)
	}()
	waitFor(t, "connected write", func() bool { return w.writeCount() >= 1 })

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < clientBuffer+2; i++ {
			source.publish(FileChangeEvent{Kind: ChangeChanged, File: "busy.md"})
		}
	}()
	select {
	case <-published:
	case <-time.After(3 * time.Second):
		t.Fatal("publisher blocked on a slow client")
	}

	close(w.release)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("slow client stream was not closed")
	}
	if source.count() != 0 {
		t.Errorf("expected listener removed, %d remain", source.count())
	}
}

func TestHub_RequiresFlusher(t *testing.T) {
	hub := NewHub(nil, time.Hour, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/changes", nil)
	w := &nonFlushingWriter{header: make(http.Header)}
	hub.ServeHTTP(w, req)
	assertStatusCode(t, w.status, http.StatusInternalServerError)
}

type nonFlushingWriter struct {
	header http.Header
	status int
}

func (n *nonFlushingWriter) Header() http.Header         { return n.header }
func (n *nonFlushingWriter) Write(p []byte) (int, error) { return len(p), nil }
func (n *nonFlushingWriter) WriteHeader(status int)      { n.status = status }

// TestHub_StreamOpenAtCleanup checks a stream still open when a test ends is
// cancelled before its server is closed
func TestHub_StreamOpenAtCleanup(t *testing.T) {
	source := newFakeSource()
	hub := NewHub(source, time.Hour, discardLogger())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t.Run("open stream", func(t *testing.T) {
			srv := newHubServer(t, hub)
			r, _, _ := openStream(t, srv.URL)
			readSSE(t, r)
		})
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("server close blocked on an open stream")
	}
	waitFor(t, "stream closed", func() bool { return hub.Clients() == 0 && source.count() == 0 })
}
