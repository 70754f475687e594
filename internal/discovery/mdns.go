package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type wsinspect servers register
	ServiceType = "_wsinspect._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default browse duration
	DefaultScanTimeout = 5 * time.Second
)

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
	once   sync.Once
	done   chan struct{}
}

// Advertise registers instance on port with the given TXT records. The
// registration is withdrawn when ctx ends or Shutdown is called.
func Advertise(ctx context.Context, instance string, port int, txt []string) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	adv := &Advertisement{
		server: server,
		done:   make(chan struct{}),
	}

	go func() {
		select {
		case <-ctx.Done():
			adv.Shutdown()
		case <-adv.done:
		}
	}()

	return adv, nil
}

// Shutdown withdraws the registration. It is safe to call more than once.
func (a *Advertisement) Shutdown() {
	a.once.Do(func() {
		close(a.done)
		a.server.Shutdown()
	})
}

// Scanner browses for wsinspect servers
type Scanner struct {
	// Timeout is how long Scan listens for answers
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan browses until the timeout or ctx ends and returns every endpoint
// seen, one per instance name.
func (s *Scanner) Scan(ctx context.Context) ([]*Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu        sync.Mutex
		endpoints []*Endpoint
		seen      = make(map[string]bool)
	)

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				ep := parseServiceEntry(entry)
				if ep == nil {
					continue
				}
				mu.Lock()
				if !seen[ep.Instance] {
					seen[ep.Instance] = true
					endpoints = append(endpoints, ep)
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]*Endpoint(nil), endpoints...), nil
}

// parseServiceEntry converts a zeroconf entry to an Endpoint.
// Returns nil if the entry has no usable address or port.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Endpoint {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := parseTXT(entry.Text)
	path := metadata["path"]
	if path == "" {
		path = "/"
	}

	return &Endpoint{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Path:         path,
		TLS:          metadata["tls"] == "true",
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
