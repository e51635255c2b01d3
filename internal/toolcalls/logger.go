package toolcalls

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Logger provides async buffered logging with batch writes.
// Entries are queued on a channel and flushed to the store when a batch
// fills up or the flush interval elapses.
type Logger struct {
	store         Store
	config        Config
	buffer        chan *Entry
	done          chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup // tracks in-flight Write calls
	flushInterval time.Duration
	closed        atomic.Bool
	dropped       atomic.Int64
}

// NewLogger creates a new async buffered Logger and starts its flush loop.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		config:        cfg,
		buffer:        make(chan *Entry, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues an entry without blocking. When the buffer is full or the
// logger is closed the entry is dropped.
func (l *Logger) Write(entry *Entry) {
	if entry == nil || l.closed.Load() {
		return
	}

	l.writes.Add(1)
	defer l.writes.Done()

	// Close may have run between the first check and Add(1).
	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		l.dropped.Add(1)
		slog.Warn("tool call log buffer full, dropping entry",
			"request_id", entry.RequestID,
			"tool", entry.Tool,
		)
	}
}

// Dropped returns the number of entries dropped because the buffer was full.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}

// Close stops the logger, flushes remaining entries and closes the store.
// Close is idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.writes.Wait()
	close(l.done)
	l.wg.Wait()

	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, BatchFlushThreshold)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-l.done:
			// l.closed is already set, so no Write can send after this.
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush tool call store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write tool call batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopLogger is used when persistence is disabled.
type NoopLogger struct{}

// Write does nothing
func (l *NoopLogger) Write(_ *Entry) {}

// Config returns an empty config
func (l *NoopLogger) Config() Config {
	return Config{Enabled: false}
}

// Close does nothing
func (l *NoopLogger) Close() error {
	return nil
}

// LoggerInterface defines the interface for loggers (both real and noop)
type LoggerInterface interface {
	Write(entry *Entry)
	Config() Config
	Close() error
}
