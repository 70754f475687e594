package protocol

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedPipeline(policy DecodePolicy, mode ResponseMode) (*Pipeline, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewPipeline(NewDecoder(policy), NewResponder(mode, "", ""), zap.New(core))
	return p, logs
}

func TestHandleMessageStructured(t *testing.T) {
	p, logs := newObservedPipeline(DecodeRaw, ResponseFixed)

	out := p.HandleMessage("127.0.0.1:4000", InboundMessage{
		Type:       websocket.TextMessage,
		Data:       []byte(`{"a":1}`),
		ReceivedAt: time.Now(),
	})

	if !out.Classification.IsStructured() {
		t.Fatalf("classification = %v, want structured", out.Classification.Kind)
	}
	if string(out.Response) != DefaultAck {
		t.Errorf("response = %q, want %q", out.Response, DefaultAck)
	}
	if out.ResponseType != websocket.TextMessage {
		t.Errorf("response type = %d, want text", out.ResponseType)
	}

	entries := logs.FilterMessage("Structured payload received").All()
	if len(entries) != 1 {
		t.Fatalf("got %d structured log entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["payload"]; got != `{"a":1}` {
		t.Errorf("logged payload = %v, want {\"a\":1}", got)
	}
	if _, ok := entries[0].ContextMap()["received_at"]; !ok {
		t.Error("log entry should carry received_at")
	}
}

func TestHandleMessageRawText(t *testing.T) {
	p, logs := newObservedPipeline(DecodeRaw, ResponseEchoPrefixed)

	out := p.HandleMessage("127.0.0.1:4000", InboundMessage{
		Type: websocket.BinaryMessage,
		Data: []byte("hello"),
	})

	if out.Classification.IsStructured() {
		t.Fatal("hello should not classify as structured")
	}
	if string(out.Response) != "You said: hello" {
		t.Errorf("response = %q", out.Response)
	}
	if out.ResponseType != websocket.BinaryMessage {
		t.Errorf("response type = %d, want binary", out.ResponseType)
	}

	entries := logs.FilterMessage("Raw text received").All()
	if len(entries) != 1 {
		t.Fatalf("got %d raw text entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["text"]; got != "hello" {
		t.Errorf("logged text = %v, want hello", got)
	}
	if logs.FilterMessage("Payload is not JSON").Len() != 1 {
		t.Error("parse failure should be logged at debug level")
	}
}

func TestHandleMessageNulPadded(t *testing.T) {
	p, _ := newObservedPipeline(DecodeNulTerminated, ResponseFixed)

	out := p.HandleMessage("127.0.0.1:4000", InboundMessage{
		Type: websocket.BinaryMessage,
		Data: []byte("{\"a\":1}\x00\x00\x00"),
	})

	if out.Text != `{"a":1}` {
		t.Errorf("decoded text = %q, want {\"a\":1}", out.Text)
	}
	if !out.Classification.IsStructured() {
		t.Error("NUL padded JSON should classify as structured")
	}
}

func TestNewPipelineDefaults(t *testing.T) {
	p := NewPipeline(nil, nil, nil)
	out := p.HandleMessage("x", InboundMessage{Type: websocket.TextMessage, Data: []byte("hi")})
	if string(out.Response) != DefaultAck {
		t.Errorf("response = %q, want default ack", out.Response)
	}
}
