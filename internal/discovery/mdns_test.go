package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantPath string
		wantTLS  bool
	}{
		{
			name: "ipv4 with txt",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bench"},
				HostName:      "bench.local.",
				Port:          8000,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"path=/ws", "tls=true"},
			},
			wantIP:   "192.168.4.16",
			wantPort: 8000,
			wantPath: "/ws",
			wantTLS:  true,
		},
		{
			name: "ipv6 fallback and default path",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "lab"},
				HostName:      "lab.local.",
				Port:          9000,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
			},
			wantIP:   "fe80::1",
			wantPort: 9000,
			wantPath: "/",
		},
		{
			name: "prefers ipv4",
			entry: &zeroconf.ServiceEntry{
				HostName: "dual.local.",
				Port:     8000,
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::5")},
			},
			wantIP:   "10.0.0.5",
			wantPort: 8000,
			wantPath: "/",
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				HostName: "ghost.local.",
				Port:     8000,
			},
			wantNil: true,
		},
		{
			name: "no port",
			entry: &zeroconf.ServiceEntry{
				HostName: "noport.local.",
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.6")},
			},
			wantNil: true,
		},
		{
			name:    "nil entry",
			entry:   nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := parseServiceEntry(tt.entry)

			if tt.wantNil {
				if ep != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", ep)
				}
				return
			}
			if ep == nil {
				t.Fatal("parseServiceEntry() = nil, want endpoint")
			}
			if ep.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", ep.IP, tt.wantIP)
			}
			if ep.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", ep.Port, tt.wantPort)
			}
			if ep.Path != tt.wantPath {
				t.Errorf("Path = %v, want %v", ep.Path, tt.wantPath)
			}
			if ep.TLS != tt.wantTLS {
				t.Errorf("TLS = %v, want %v", ep.TLS, tt.wantTLS)
			}
			if ep.DiscoveredAt.IsZero() {
				t.Error("DiscoveredAt should be set")
			}
		})
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()
	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("NewScanner().Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
}
