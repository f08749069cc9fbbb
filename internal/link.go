package internal

import (
	"context"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"
)

const DefaultRetryInterval = 5000 * time.Millisecond

type ClientConfig struct {
	SSID     string
	Password string
}

// LinkController drives the wireless interface. It is owned by a single
// Supervisor.
type LinkController interface {
	IsStarted() bool
	Configure(cfg ClientConfig) error
	Start(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// WaitForDisconnect blocks until the link goes down.
	WaitForDisconnect(ctx context.Context) error
}

// LinkStatus is the read-only view of the link used by the ingestion server.
type LinkStatus interface {
	IsLinkUp() bool
	IPv4() (netip.Addr, bool)
}

type SupervisorConfig struct {
	Client        ClientConfig
	RetryInterval time.Duration
}

func DefaultSupervisorConfig(client ClientConfig) SupervisorConfig {
	return SupervisorConfig{
		Client:        client,
		RetryInterval: DefaultRetryInterval,
	}
}

type Supervisor struct {
	logger   *slog.Logger
	link     LinkController
	cfg      SupervisorConfig
	counters Counters
	state    atomic.Int32
	attempts atomic.Uint64
}

func NewSupervisor(logger *slog.Logger, link LinkController, cfg SupervisorConfig, counters Counters) *Supervisor {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	if counters == nil {
		counters = NopCounters{}
	}

	return &Supervisor{
		logger:   logger.With(slog.String("component", "link")),
		link:     link,
		cfg:      cfg,
		counters: counters,
	}
}

func (s *Supervisor) State() ConnectivityState {
	return ConnectivityState(s.state.Load())
}

// Attempts counts configure/start/connect sequences issued so far.
func (s *Supervisor) Attempts() uint64 {
	return s.attempts.Load()
}

func (s *Supervisor) setState(state ConnectivityState) {
	prev := ConnectivityState(s.state.Swap(int32(state)))
	if prev != state {
		s.logger.Debug("state changed", slog.String("from", prev.String()), slog.String("to", state.String()))
	}
}

// Run keeps the link up until ctx is cancelled. It has no terminal state of
// its own and only returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("starting connection supervisor", slog.String("ssid", s.cfg.Client.SSID))

	for {
		switch s.State() {
		case StateDisconnected, StateConnecting:
			s.setState(StateConnecting)

			if err := s.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				s.logger.Error("failed to connect", slog.Any("err", err), slog.Duration("retry", s.cfg.RetryInterval))
				s.counters.Incr(ctx, CounterLinkFailures, 1)
				s.setState(StateDisconnected)

				if err := sleep(ctx, s.cfg.RetryInterval); err != nil {
					return err
				}

				continue
			}

			s.logger.Info("link connected")
			s.counters.Incr(ctx, CounterLinkConnects, 1)
			s.setState(StateConnected)

		case StateConnected:
			if err := s.link.WaitForDisconnect(ctx); err != nil {
				if ctx.Err() != nil {
					s.shutdown()
					return ctx.Err()
				}

				s.logger.Warn("link event wait failed, assuming disconnect", slog.Any("err", err))
			}

			s.logger.Warn("link down", slog.Duration("retry", s.cfg.RetryInterval))
			s.counters.Incr(ctx, CounterLinkDrops, 1)
			s.setState(StateWaitingAfterDisconnect)

		case StateWaitingAfterDisconnect:
			if err := sleep(ctx, s.cfg.RetryInterval); err != nil {
				return err
			}

			s.setState(StateDisconnected)
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) error {
	s.attempts.Add(1)

	if !s.link.IsStarted() {
		if err := s.link.Configure(s.cfg.Client); err != nil {
			return err
		}

		s.logger.Debug("starting link")
		if err := s.link.Start(ctx); err != nil {
			return err
		}
	}

	s.logger.Debug("connecting")
	return s.link.Connect(ctx)
}

func (s *Supervisor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.link.Disconnect(ctx); err != nil {
		s.logger.Warn("failed to disconnect", slog.Any("err", err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
