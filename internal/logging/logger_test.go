package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewSilentWithoutLevel(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	l, err := New("", FormatConsole)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if l.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger without level should be a no-op")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New("info", "xml"); err == nil {
		t.Error("New() with format xml should fail")
	}
}

func TestLogConnection(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core)

	LogConnection(l, "127.0.0.1:5555", "connection_accepted", zap.Int("remote_port", 5555))

	entries := logs.FilterMessage("Connection event").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event"] != "connection_accepted" {
		t.Errorf("event = %v, want connection_accepted", fields["event"])
	}
	if fields["remote_port"] != int64(5555) {
		t.Errorf("remote_port = %v, want 5555", fields["remote_port"])
	}
}

func TestDumps(t *testing.T) {
	data := []byte{'h', 'i', 0x00, 0x7f}

	if got := HexDump(data); got != "6869007f" {
		t.Errorf("HexDump() = %q, want 6869007f", got)
	}
	if got := ASCIIDump(data); got != "hi.." {
		t.Errorf("ASCIIDump() = %q, want hi..", got)
	}

	long := make([]byte, 300)
	if got := HexDump(long); len(got) != 512+3 {
		t.Errorf("HexDump() of 300 bytes has length %d, want 515", len(got))
	}
}

func TestLogRawBytes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(core)

	LogRawBytes(l, "Inbound payload", []byte("hi\x00"), zap.Uint64("message_num", 3))

	entries := logs.FilterMessage("Inbound payload").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["hex"] != "686900" || fields["ascii"] != "hi." {
		t.Errorf("dump = %v / %v, want 686900 / hi.", fields["hex"], fields["ascii"])
	}
	if fields["length"] != int64(3) || fields["message_num"] != uint64(3) {
		t.Errorf("length = %v, message_num = %v", fields["length"], fields["message_num"])
	}

	// Nothing is logged above debug
	quiet, quietLogs := observer.New(zapcore.InfoLevel)
	LogRawBytes(zap.New(quiet), "Inbound payload", []byte("hi"))
	if quietLogs.Len() != 0 {
		t.Errorf("got %d entries at info level, want 0", quietLogs.Len())
	}
}

func TestNames(t *testing.T) {
	if got := TLSVersionName(0x0303); got != "TLS 1.2" {
		t.Errorf("TLSVersionName(0x0303) = %q", got)
	}
	if got := CipherSuiteName(0x1301); got != "TLS_AES_128_GCM_SHA256" {
		t.Errorf("CipherSuiteName(0x1301) = %q", got)
	}
	if got := WSMessageTypeName(2); got != "binary" {
		t.Errorf("WSMessageTypeName(2) = %q", got)
	}
}
