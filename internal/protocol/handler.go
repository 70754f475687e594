package protocol

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InboundMessage is one WebSocket message as delivered by the transport.
type InboundMessage struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage
	Type       int
	Data       []byte
	ReceivedAt time.Time
}

// Outcome is everything the pipeline produced for one InboundMessage.
type Outcome struct {
	Text           string
	Classification Classification
	Response       []byte
	// ResponseType mirrors the inbound message type
	ResponseType int
}

// Pipeline runs decode, classify, log and respond for single messages.
// It holds no per-connection state and is safe for concurrent use.
type Pipeline struct {
	Decoder   *Decoder
	Responder *Responder
	Logger    *zap.Logger
}

// NewPipeline creates a pipeline. A nil logger disables logging.
func NewPipeline(decoder *Decoder, responder *Responder, logger *zap.Logger) *Pipeline {
	if decoder == nil {
		decoder = NewDecoder(DecodeRaw)
	}
	if responder == nil {
		responder = NewResponder(ResponseFixed, "", "")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Decoder:   decoder,
		Responder: responder,
		Logger:    logger,
	}
}

// HandleMessage processes one inbound message and returns the response to
// write. Malformed payloads still get a response.
func (p *Pipeline) HandleMessage(remoteAddr string, msg InboundMessage) Outcome {
	text := p.Decoder.Decode(msg.Data)
	result := Classify(text)

	p.logClassification(remoteAddr, msg, result)

	responseType := msg.Type
	if responseType != websocket.TextMessage && responseType != websocket.BinaryMessage {
		responseType = websocket.TextMessage
	}

	return Outcome{
		Text:           text,
		Classification: result,
		Response:       p.Responder.Build(msg.Data),
		ResponseType:   responseType,
	}
}

func (p *Pipeline) logClassification(remoteAddr string, msg InboundMessage, result Classification) {
	fields := []zap.Field{
		zap.String("remote_addr", remoteAddr),
		zap.Time("received_at", msg.ReceivedAt),
		zap.Int("length", len(msg.Data)),
	}

	if result.IsStructured() {
		p.Logger.Info("Structured payload received",
			append(fields, zap.String("payload", result.Canonical))...)

		if ce := p.Logger.Check(zapcore.DebugLevel, "Structured payload (pretty)"); ce != nil {
			ce.Write(zap.String("remote_addr", remoteAddr), zap.String("pretty", "\n"+result.Pretty()))
		}
		return
	}

	p.Logger.Info("Raw text received", append(fields, zap.String("text", result.Text))...)
	if result.Err != nil {
		p.Logger.Debug("Payload is not JSON",
			zap.String("remote_addr", remoteAddr),
			zap.Error(result.Err),
		)
	}
}
