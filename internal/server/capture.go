package server

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wsinspect/internal/logging"
	"github.com/muurk/wsinspect/internal/protocol"
)

// Directions recorded in capture files
const (
	DirectionInbound = "client->server"
)

// maxCaptureLine bounds a single JSONL record when reading captures back
const maxCaptureLine = 16 * 1024 * 1024

// CaptureRecord is one line of a capture file.
type CaptureRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	ConnectionID   string    `json:"connection_id"`
	RemoteAddr     string    `json:"remote_addr"`
	MessageNum     uint64    `json:"message_num"`
	Direction      string    `json:"direction"`
	MessageType    string    `json:"message_type"`
	PayloadLen     int       `json:"payload_length"`
	PayloadHex     string    `json:"payload_hex"`
	PayloadASCII   string    `json:"payload_ascii"`
	Text           string    `json:"text"`
	Classification string    `json:"classification"`
	Response       string    `json:"response"`
}

// Payload decodes PayloadHex
func (r *CaptureRecord) Payload() ([]byte, error) {
	return hex.DecodeString(r.PayloadHex)
}

// CaptureWriter appends CaptureRecords to capture-YYYYMMDD.jsonl files in a
// directory. One writer is shared by every connection of a server.
type CaptureWriter struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewCaptureWriter creates the capture directory if needed
func NewCaptureWriter(dir string, logger *zap.Logger) (*CaptureWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptureWriter{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Dir returns the capture directory
func (w *CaptureWriter) Dir() string {
	return w.dir
}

// FileFor returns the capture file that records made at t go to
func (w *CaptureWriter) FileFor(t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("capture-%s.jsonl", t.Format("20060102")))
}

// Write appends one record. Errors are logged and returned; they never
// affect the connection that produced the record.
func (w *CaptureWriter) Write(rec CaptureRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		w.logger.Error("Failed to marshal capture record", zap.Error(err))
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	filename := w.FileFor(w.now())
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		w.logger.Error("Failed to open capture file",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		w.logger.Error("Failed to write to capture file",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return err
	}

	w.logger.Debug("Saved message to capture file",
		zap.String("filename", filename),
		zap.Uint64("message_num", rec.MessageNum),
	)
	return nil
}

// newCaptureRecord builds the record for one inbound message
func newCaptureRecord(conn *Connection, num uint64, msg protocol.InboundMessage, out protocol.Outcome) CaptureRecord {
	return CaptureRecord{
		Timestamp:      msg.ReceivedAt,
		ConnectionID:   conn.ID.String(),
		RemoteAddr:     conn.RemoteAddr,
		MessageNum:     num,
		Direction:      DirectionInbound,
		MessageType:    logging.WSMessageTypeName(msg.Type),
		PayloadLen:     len(msg.Data),
		PayloadHex:     hex.EncodeToString(msg.Data),
		PayloadASCII:   logging.ASCIIDump(msg.Data),
		Text:           out.Text,
		Classification: out.Classification.Kind.String(),
		Response:       string(out.Response),
	}
}

// ReadCaptureFile parses a capture file. Blank lines are skipped; a line
// that is not a valid record is an error naming the line number.
func ReadCaptureFile(path string) ([]CaptureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var records []CaptureRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCaptureLine)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec CaptureRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return records, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

// CaptureSummary aggregates a set of capture records.
type CaptureSummary struct {
	Messages    int
	Connections int
	Structured  int
	RawText     int
	Bytes       int
	ByType      map[string]int
	First       time.Time
	Last        time.Time
}

// Summarize aggregates records, for example the output of ReadCaptureFile
func Summarize(records []CaptureRecord) CaptureSummary {
	sum := CaptureSummary{ByType: make(map[string]int)}
	conns := make(map[string]struct{})

	for _, rec := range records {
		sum.Messages++
		sum.Bytes += rec.PayloadLen
		sum.ByType[rec.MessageType]++
		conns[rec.ConnectionID] = struct{}{}

		switch rec.Classification {
		case protocol.KindStructured.String():
			sum.Structured++
		case protocol.KindRawText.String():
			sum.RawText++
		}

		if sum.First.IsZero() || rec.Timestamp.Before(sum.First) {
			sum.First = rec.Timestamp
		}
		if rec.Timestamp.After(sum.Last) {
			sum.Last = rec.Timestamp
		}
	}

	sum.Connections = len(conns)
	return sum
}
