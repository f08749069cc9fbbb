package impl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"manualpilot/shapecast/internal"
)

var ErrNoInterface = errors.New("no usable network interface")

// HostLink backs the link controller with a host network interface. The OS
// owns association and addressing; HostLink only observes it. An empty
// interface name selects the first non-loopback interface that is up.
type HostLink struct {
	name         string
	pollInterval time.Duration

	mu        sync.RWMutex
	started   bool
	connected bool
	client    internal.ClientConfig

	// interfaces is swapped in tests.
	interfaces func() ([]net.Interface, error)
	addrs      func(iface net.Interface) ([]net.Addr, error)
}

func NewHostLink(name string) *HostLink {
	return &HostLink{
		name:         name,
		pollInterval: time.Second,
		interfaces:   net.Interfaces,
		addrs: func(iface net.Interface) ([]net.Addr, error) {
			return iface.Addrs()
		},
	}
}

func (h *HostLink) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

func (h *HostLink) Configure(cfg internal.ClientConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	h.client = cfg
	return nil
}

func (h *HostLink) Start(ctx context.Context) error {
	if _, err := h.find(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
	return nil
}

func (h *HostLink) Connect(ctx context.Context) error {
	iface, err := h.find()
	if err != nil {
		return err
	}

	if iface.Flags&net.FlagUp == 0 {
		return fmt.Errorf("%v: %w", iface.Name, internal.ErrLinkDown)
	}

	if _, ok := h.ipv4(iface); !ok {
		return fmt.Errorf("%v: no IPv4 address", iface.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = true
	return nil
}

func (h *HostLink) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
	return nil
}

func (h *HostLink) WaitForDisconnect(ctx context.Context) error {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		if !h.IsLinkUp() {
			h.mu.Lock()
			h.connected = false
			h.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsLinkUp reports whether Connect succeeded and the interface is still up.
func (h *HostLink) IsLinkUp() bool {
	h.mu.RLock()
	connected := h.connected
	h.mu.RUnlock()

	if !connected {
		return false
	}

	iface, err := h.find()
	if err != nil {
		return false
	}

	return iface.Flags&net.FlagUp != 0
}

func (h *HostLink) IPv4() (netip.Addr, bool) {
	iface, err := h.find()
	if err != nil {
		return netip.Addr{}, false
	}

	return h.ipv4(iface)
}

func (h *HostLink) find() (net.Interface, error) {
	ifaces, err := h.interfaces()
	if err != nil {
		return net.Interface{}, err
	}

	for _, iface := range ifaces {
		if h.name != "" {
			if iface.Name == h.name {
				return iface, nil
			}
			continue
		}

		if iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagUp != 0 {
			return iface, nil
		}
	}

	if h.name != "" {
		return net.Interface{}, fmt.Errorf("%w: %v", ErrNoInterface, h.name)
	}

	return net.Interface{}, ErrNoInterface
}

func (h *HostLink) ipv4(iface net.Interface) (netip.Addr, bool) {
	addrs, err := h.addrs(iface)
	if err != nil {
		return netip.Addr{}, false
	}

	for _, addr := range addrs {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			continue
		}

		if ip := prefix.Addr(); ip.Is4() {
			return ip, true
		}
	}

	return netip.Addr{}, false
}
