package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Endpoint is a wsinspect server found on the local network
type Endpoint struct {
	// Instance is the advertised instance name (e.g., "wsinspect")
	Instance string

	// Hostname is the mDNS hostname (e.g., "bench.local.")
	Hostname string

	// IP is the preferred address, IPv4 when available
	IP string

	Port int

	// Path is the WebSocket path from the "path" TXT record, "/" if absent
	Path string

	// TLS is true when the server advertised "tls=true"
	TLS bool

	// Metadata holds all TXT records
	Metadata map[string]string

	DiscoveredAt time.Time
}

// String returns a human-readable description of the endpoint
func (e *Endpoint) String() string {
	return fmt.Sprintf("%s (%s) at %s", e.Instance, strings.TrimSuffix(e.Hostname, "."), e.URL())
}

// URL returns the ws:// or wss:// URL of the endpoint
func (e *Endpoint) URL() string {
	scheme := "ws"
	if e.TLS {
		scheme = "wss"
	}
	path := e.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(e.IP, strconv.Itoa(e.Port)), path)
}

// GetMetadata retrieves a TXT value by key, or returns empty string if not found
func (e *Endpoint) GetMetadata(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// parseTXT splits "key=value" records. A record without "=" maps to "".
func parseTXT(records []string) map[string]string {
	metadata := make(map[string]string, len(records))
	for _, txt := range records {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	return metadata
}
