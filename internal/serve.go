package internal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/net/netutil"
)

const (
	DefaultPort             = 80
	RequestBufferSize       = 2048
	DefaultStartReadTimeout = 5 * time.Second
	DefaultReadTimeout      = 1 * time.Second
	DefaultWriteTimeout     = 1 * time.Second
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultMaxConnections   = 1

	// maxDiscard bounds how much of a rejected body is read before closing.
	maxDiscard = 256 << 10
)

type ServerConfig struct {
	Addr string
	// StartReadTimeout bounds the wait for the first byte of a request,
	// ReadTimeout the rest of the request once it started.
	StartReadTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PollInterval     time.Duration
	BufferSize       int
	MaxConnections   int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             fmt.Sprintf(":%v", DefaultPort),
		StartReadTimeout: DefaultStartReadTimeout,
		ReadTimeout:      DefaultReadTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		PollInterval:     DefaultPollInterval,
		BufferSize:       RequestBufferSize,
		MaxConnections:   DefaultMaxConnections,
	}
}

// Server accepts and serves one connection at a time.
type Server struct {
	logger   *slog.Logger
	link     LinkStatus
	handler  http.Handler
	counters Counters
	cfg      ServerConfig
}

func NewServer(logger *slog.Logger, link LinkStatus, publisher *ShapePublisher, cfg ServerConfig, counters Counters) *Server {
	def := DefaultServerConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.StartReadTimeout <= 0 {
		cfg.StartReadTimeout = def.StartReadTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}

	if counters == nil {
		counters = NopCounters{}
	}

	logger = logger.With(slog.String("component", "web"))
	state := &State{Publisher: publisher, Counters: counters}

	return &Server{
		logger:   logger,
		link:     link,
		handler:  Router(logger, state),
		counters: counters,
		cfg:      cfg,
	}
}

// Run waits for the link and an address, then serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.WaitForNetwork(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

func (s *Server) WaitForNetwork(ctx context.Context) error {
	for !s.link.IsLinkUp() {
		if err := sleep(ctx, s.cfg.PollInterval); err != nil {
			return err
		}
	}

	s.logger.Info("waiting to get IP address...")
	for {
		if addr, ok := s.link.IPv4(); ok {
			s.logger.Info("got IP", slog.String("address", addr.String()))
			return nil
		}

		if err := sleep(ctx, s.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// Serve closes ln when ctx is done. No more than MaxConnections are accepted
// at once; further clients wait in the listen backlog. Accept errors other
// than a closed listener are logged and the loop continues.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ln = netutil.LimitListener(ln, s.cfg.MaxConnections)

	stop := make(chan struct{})
	defer close(stop)

	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	for {
		s.logger.Info("listening", slog.String("address", ln.Addr().String()))

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if errors.Is(err, net.ErrClosed) {
				return err
			}

			s.logger.Warn("accept error", slog.Any("err", err))
			s.counters.Incr(ctx, CounterTransportErrors, 1)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	//goland:noinspection GoUnhandledErrorResult
	defer conn.Close()

	log := s.logger.With(
		slog.String("connection", ksuid.New().String()),
		slog.String("remote", conn.RemoteAddr().String()),
	)

	log.Info("received connection")
	s.counters.Incr(ctx, CounterConnections, 1)

	status, err := s.exchange(ctx, conn)
	if err != nil {
		log.Warn("connection abandoned", slog.Any("err", err))
		s.counters.Incr(ctx, CounterTransportErrors, 1)
		return
	}

	log.Info("request handled", slog.Int("status", status))
}

// exchange reads one request, routes it and writes the response. Any error
// means nothing more is sent on conn.
func (s *Server) exchange(ctx context.Context, conn net.Conn) (int, error) {
	lr := &limitedReader{r: conn, n: s.cfg.BufferSize}
	br := bufio.NewReaderSize(lr, s.cfg.BufferSize)

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.StartReadTimeout)); err != nil {
		return 0, err
	}

	if _, err := br.Peek(1); err != nil {
		return 0, fmt.Errorf("waiting for request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return 0, err
	}

	req, err := http.ReadRequest(br)
	if err != nil {
		return 0, fmt.Errorf("reading request: %w", err)
	}

	rec := newResponseBuffer()
	consumed := lr.read - br.Buffered()
	tooLarge := req.ContentLength > int64(s.cfg.BufferSize-consumed)

	s.counters.Incr(ctx, CounterRequests, 1)

	if tooLarge {
		badRequest(rec, req, &State{Counters: s.counters}, ErrRequestTooLarge)
	} else {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return 0, fmt.Errorf("reading body: %w", err)
		}

		req.Body = io.NopCloser(bytes.NewReader(body))
		req = req.WithContext(ctx)

		s.handler.ServeHTTP(rec, req)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(conn)
	resp := rec.response(req)

	if err := resp.Write(bw); err != nil {
		return 0, fmt.Errorf("writing response: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("writing response: %w", err)
	}

	if tooLarge {
		s.discardBody(conn, br, req.ContentLength)
	}

	return resp.StatusCode, nil
}

// discardBody reads the unread part of a rejected body so that closing conn
// does not reset the connection before the client read the response.
func (s *Server) discardBody(conn net.Conn, br *bufio.Reader, n int64) {
	n -= int64(br.Buffered())
	if n <= 0 || n > maxDiscard {
		return
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return
	}

	_, _ = io.CopyN(io.Discard, conn, n)
}

// limitedReader fails with ErrRequestTooLarge once n bytes were read.
type limitedReader struct {
	r    io.Reader
	n    int
	read int
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.read >= l.n {
		return 0, ErrRequestTooLarge
	}

	if len(p) > l.n-l.read {
		p = p[:l.n-l.read]
	}

	n, err := l.r.Read(p)
	l.read += n
	return n, err
}

type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: http.Header{}}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *responseBuffer) response(req *http.Request) *http.Response {
	b.WriteHeader(http.StatusOK)

	resp := &http.Response{
		StatusCode:    b.status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        b.header,
		ContentLength: int64(b.body.Len()),
		Close:         true,
		Request:       req,
	}

	if b.body.Len() > 0 {
		resp.Body = io.NopCloser(bytes.NewReader(b.body.Bytes()))
	}

	return resp
}
