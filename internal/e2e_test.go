package internal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const defaultWaitTime = 100 * time.Millisecond

type staticLink struct {
	up   atomic.Bool
	addr atomic.Bool
}

func (l *staticLink) IsLinkUp() bool {
	return l.up.Load()
}

func (l *staticLink) IPv4() (netip.Addr, bool) {
	if !l.addr.Load() {
		return netip.Addr{}, false
	}

	return netip.MustParseAddr("192.168.4.2"), true
}

type testServer struct {
	addr     string
	sub      *Subscriber[Shape]
	counters *MemoryCounters
}

func startServer(t *testing.T, ctx context.Context) *testServer {
	t.Helper()

	ch := NewShapeChannel()
	pub, _ := ch.Publisher()
	sub, _ := ch.Subscribe()

	link := &staticLink{}
	link.up.Store(true)
	link.addr.Store(true)

	cfg := ServerConfig{
		StartReadTimeout: 300 * time.Millisecond,
		ReadTimeout:      200 * time.Millisecond,
		WriteTimeout:     200 * time.Millisecond,
	}

	counters := NewMemoryCounters()
	server := NewServer(testLogger(), link, NewShapePublisher(pub), cfg, counters)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go func() { _ = server.Serve(ctx, ln) }()

	return &testServer{addr: ln.Addr().String(), sub: sub, counters: counters}
}

// exchange sends raw on a fresh connection and returns everything the
// server wrote before closing it.
func exchange(t *testing.T, addr, raw string) []byte {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}

	//goland:noinspection GoUnhandledErrorResult
	defer conn.Close()

	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	b, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}

	return b
}

func parseResponse(t *testing.T, raw []byte) (*http.Response, string) {
	t.Helper()

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		t.Fatalf("bad response %q: %v", raw, err)
	}

	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	return resp, string(b)
}

func post(path, body string) string {
	return fmt.Sprintf("POST %v HTTP/1.1\r\nHost: display\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%v", path, len(body), body)
}

func TestE2E(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startServer(t, ctx)

	// single shape

	body := `{"Triangle":{"a":{"x":0,"y":0},"b":{"x":1,"y":0},"c":{"x":0,"y":1}}}`
	resp, text := parseResponse(t, exchange(t, srv.addr, post("/shape", body)))

	if resp.StatusCode != http.StatusOK || text != Confirmation {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, text)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	msg, err := srv.sub.Next(waitCtx)
	waitCancel()
	if err != nil {
		t.Fatal(err)
	}

	if msg.Value != NewTriangle(Point{0, 0}, Point{1, 0}, Point{0, 1}) {
		t.Errorf("unexpected shape %+v", msg.Value)
	}

	if srv.sub.Len() != 0 {
		t.Errorf("expected exactly one shape, %d more queued", srv.sub.Len())
	}

	// batch

	body = `[{"Triangle":{"a":{"x":0,"y":0},"b":{"x":1,"y":0},"c":{"x":0,"y":1}}},` +
		`{"Ellipse":{"top_left":{"x":4,"y":4},"size":{"x":8,"y":2}}}]`
	resp, text = parseResponse(t, exchange(t, srv.addr, post("/shapes", body)))

	if resp.StatusCode != http.StatusOK || text != Confirmation {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, text)
	}

	first, _, _ := srv.sub.TryNext()
	second, _, _ := srv.sub.TryNext()

	if first.Value.Kind != KindTriangle || second.Value != NewEllipse(Point{4, 4}, Size{8, 2}) {
		t.Errorf("batch out of order: %+v, %+v", first.Value, second.Value)
	}

	// greeting

	raw := exchange(t, srv.addr, "GET / HTTP/1.1\r\nHost: display\r\n\r\n")
	resp, text = parseResponse(t, raw)

	if resp.StatusCode != http.StatusOK || text != Greeting {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, text)
	}

	if !bytes.Contains(raw, []byte("Connection: Close\r\n")) {
		t.Errorf("missing Connection: Close header in %q", raw)
	}

	// malformed

	resp, text = parseResponse(t, exchange(t, srv.addr, post("/shape", `{"Triangle":{"a":`)))

	if resp.StatusCode != http.StatusBadRequest || text == "" {
		t.Errorf("expected 400 with a description, got %d %q", resp.StatusCode, text)
	}

	if srv.counters.Get(CounterConnections) != 4 || srv.counters.Get(CounterPublished) != 3 {
		t.Errorf("unexpected counters: connections=%d published=%d",
			srv.counters.Get(CounterConnections), srv.counters.Get(CounterPublished))
	}
}

func TestE2EReadTimeoutDropsConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startServer(t, ctx)

	started := time.Now()
	raw := exchange(t, srv.addr, "POST /shape HTTP/1.1\r\nHost: display\r\nContent-Length: 100\r\n\r\n{\"Tri")

	if len(raw) != 0 {
		t.Fatalf("expected no response, got %q", raw)
	}

	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("connection held for %v", elapsed)
	}

	resp, text := parseResponse(t, exchange(t, srv.addr, "GET / HTTP/1.1\r\nHost: display\r\n\r\n"))
	if resp.StatusCode != http.StatusOK || text != Greeting {
		t.Errorf("server did not recover: %d %q", resp.StatusCode, text)
	}

	if srv.counters.Get(CounterTransportErrors) != 1 {
		t.Errorf("expected 1 transport error, got %d", srv.counters.Get(CounterTransportErrors))
	}
}

func TestE2EIdleConnectionIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startServer(t, ctx)

	conn, err := net.Dial("tcp", srv.addr)
	if err != nil {
		t.Fatal(err)
	}

	//goland:noinspection GoUnhandledErrorResult
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}

	if len(b) != 0 {
		t.Errorf("expected silent close, got %q", b)
	}

	resp, _ := parseResponse(t, exchange(t, srv.addr, "GET / HTTP/1.1\r\nHost: display\r\n\r\n"))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("server did not recover: %d", resp.StatusCode)
	}
}

func TestE2ERequestTooLarge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startServer(t, ctx)

	body := strings.Repeat("a", 2*RequestBufferSize)
	for i := 0; i < 5; i++ {
		raw := exchange(t, srv.addr, post("/shapes", body))
		resp, text := parseResponse(t, raw)

		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}

		if !strings.Contains(text, ErrRequestTooLarge.Error()) {
			t.Errorf("unexpected body %q", text)
		}
	}

	if srv.counters.Get(CounterRequests) != 5 || srv.counters.Get(CounterBadRequests) != 5 {
		t.Errorf("unexpected counters: requests=%d bad_requests=%d",
			srv.counters.Get(CounterRequests), srv.counters.Get(CounterBadRequests))
	}

	huge := "GET / HTTP/1.1\r\nHost: display\r\nX-Padding: " + strings.Repeat("a", RequestBufferSize) + "\r\n\r\n"
	conn, err := net.Dial("tcp", srv.addr)
	if err != nil {
		t.Fatal(err)
	}

	//goland:noinspection GoUnhandledErrorResult
	defer conn.Close()

	_, _ = io.WriteString(conn, huge)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, _ := io.ReadAll(conn)

	if len(b) != 0 {
		t.Errorf("expected oversized header to be dropped, got %q", b)
	}
}

func TestE2EServesOneConnectionAtATime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startServer(t, ctx)

	idle, err := net.Dial("tcp", srv.addr)
	if err != nil {
		t.Fatal(err)
	}

	//goland:noinspection GoUnhandledErrorResult
	defer idle.Close()

	time.Sleep(50 * time.Millisecond)

	started := time.Now()
	resp, text := parseResponse(t, exchange(t, srv.addr, "GET / HTTP/1.1\r\nHost: display\r\n\r\n"))

	if resp.StatusCode != http.StatusOK || text != Greeting {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, text)
	}

	// the idle client holds the only slot until its start timeout expires
	if elapsed := time.Since(started); elapsed < 200*time.Millisecond {
		t.Errorf("second connection served after %v while the first was open", elapsed)
	}

	_ = idle.SetReadDeadline(time.Now().Add(time.Second))
	b, err := io.ReadAll(idle)
	if err != nil {
		t.Fatal(err)
	}

	if len(b) != 0 {
		t.Errorf("expected idle connection to be dropped silently, got %q", b)
	}
}

func TestWaitForNetwork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	link := &staticLink{}
	server := NewServer(testLogger(), link, nil, ServerConfig{PollInterval: 10 * time.Millisecond}, nil)

	done := make(chan error, 1)
	go func() { done <- server.WaitForNetwork(ctx) }()

	time.Sleep(defaultWaitTime)
	link.up.Store(true)

	time.Sleep(defaultWaitTime)
	select {
	case <-done:
		t.Fatal("gate opened before an address was assigned")
	default:
	}

	link.addr.Store(true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("gate never opened")
	}
}
