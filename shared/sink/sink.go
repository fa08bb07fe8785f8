// Package sink defines the output seam consumed by the core library. A Sink
// accepts opaque message blobs; a DebugSink adds a verbosity threshold.
// Where those blobs ultimately go (stdout, a file, syslog, the structured
// logger) is the concern of the concrete sink, not of the code producing
// the messages.
package sink

import (
	"io"
	"log/syslog"
	"sync/atomic"

	"github.com/wardend/wardend/shared/logger"
)

// Sink consumes message blobs.
type Sink interface {
	Consume(b []byte) error
}

// WriterSink sends every blob to an io.Writer (stdout, stderr, a file).
type WriterSink struct {
	W io.Writer
}

// Consume writes the blob to the underlying writer.
func (s *WriterSink) Consume(b []byte) error {
	_, err := s.W.Write(b)
	return err
}

// SyslogSink sends every blob to syslog.
type SyslogSink struct {
	w *syslog.Writer
}

// NewSyslogSink connects to the system log daemon with the given priority
// and tag.
func NewSyslogSink(priority syslog.Priority, tag string) (*SyslogSink, error) {
	w, err := syslog.New(priority, tag)
	if err != nil {
		return nil, err
	}

	return &SyslogSink{w: w}, nil
}

// Consume writes the blob to syslog.
func (s *SyslogSink) Consume(b []byte) error {
	_, err := s.w.Write(b)
	return err
}

// Close disconnects from the system log daemon.
func (s *SyslogSink) Close() error {
	return s.w.Close()
}

// LoggerSink forwards every blob to the process logger at info level.
type LoggerSink struct {
	Log logger.Logger
}

// Consume logs the blob.
func (s *LoggerSink) Consume(b []byte) error {
	l := s.Log
	if l == nil {
		l = logger.Log
	}

	l.Info(string(b))
	return nil
}

// DebugSink gates blobs behind an integer verbosity threshold. Messages
// carry a level; only messages at or below the current threshold reach the
// underlying sink. The threshold may be changed concurrently with use.
type DebugSink struct {
	Sink      Sink
	threshold atomic.Int32
}

// SetThreshold sets the verbosity threshold.
func (s *DebugSink) SetThreshold(level int) {
	s.threshold.Store(int32(level))
}

// Threshold returns the current verbosity threshold.
func (s *DebugSink) Threshold() int {
	return int(s.threshold.Load())
}

// Consume forwards the blob at level zero.
func (s *DebugSink) Consume(b []byte) error {
	return s.ConsumeLevel(0, b)
}

// ConsumeLevel forwards the blob when level is within the threshold.
func (s *DebugSink) ConsumeLevel(level int, b []byte) error {
	if int32(level) > s.threshold.Load() {
		return nil
	}

	return s.Sink.Consume(b)
}
