package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/requora/reqcore/internal/model"
)

// LogWriter is the append-only destination for execution log entries.
type LogWriter interface {
	AppendExecutionLog(ctx context.Context, entry model.ExecutionLogEntry) error
}

const (
	defaultSinkBuffer = 256
	sinkWriteTimeout  = 5 * time.Second
	sinkDrainTimeout  = 10 * time.Second
)

// LogSink decouples execution logging from the request path. Entries go into
// a bounded queue consumed by one background writer; when the queue is full
// or the store write fails, the entry is dropped with a warning. Logging
// never blocks or fails an execute call.
type LogSink struct {
	writer  LogWriter
	queue   chan model.ExecutionLogEntry
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewLogSink starts a sink with the given buffer size (0 means the default).
func NewLogSink(writer LogWriter, buffer int) *LogSink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	s := &LogSink{
		writer: writer,
		queue:  make(chan model.ExecutionLogEntry, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Append enqueues an entry, dropping it when the queue is full.
func (s *LogSink) Append(entry model.ExecutionLogEntry) {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	select {
	case s.queue <- entry:
	default:
		zap.L().Warn("executor: log queue full, dropping entry",
			zap.String("adapter", entry.Adapter),
			zap.String("status", string(entry.Status)),
		)
	}
}

func (s *LogSink) run() {
	defer close(s.done)
	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		if err := s.writer.AppendExecutionLog(ctx, entry); err != nil {
			zap.L().Warn("executor: log write failed, dropping entry",
				zap.String("adapter", entry.Adapter),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (s *LogSink) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(sinkDrainTimeout):
		zap.L().Warn("executor: log sink drain timed out")
	}
}
