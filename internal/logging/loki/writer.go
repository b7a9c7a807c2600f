// Package loki provides a zerolog writer that pushes logs to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds configuration for the Loki writer.
type Config struct {
	URL           string            // Loki push URL (e.g., "http://10.99.0.1:3100")
	Labels        map[string]string // Static labels to add to all log entries
	BatchSize     int               // Max entries before flush (default: 100)
	FlushInterval time.Duration     // Flush interval (default: 5s)
	Timeout       time.Duration     // HTTP timeout (default: 10s)
}

// Writer implements io.Writer and pushes logs to Loki.
// It buffers log entries and flushes them periodically or when the batch is full.
type Writer struct {
	url    string
	labels map[string]string
	client *http.Client

	mu        sync.Mutex
	buffer    []entry
	batchSize int

	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	flushInterval time.Duration

	flushing     atomic.Bool   // prevents concurrent flushes
	flushTrigger chan struct{} // buffered channel to limit goroutine wakeups

	flushErrors atomic.Uint64
}

type entry struct {
	timestamp time.Time
	line      string
}

// pushRequest is the payload format for Loki's push API.
type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewWriter creates a new Loki writer with the given configuration.
func NewWriter(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Labels == nil {
		cfg.Labels = make(map[string]string)
	}
	// Always add job label
	if _, ok := cfg.Labels["job"]; !ok {
		cfg.Labels["job"] = "filedepot"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Writer{
		url:           cfg.URL,
		labels:        cfg.Labels,
		client:        &http.Client{Timeout: cfg.Timeout},
		buffer:        make([]entry, 0, cfg.BatchSize),
		batchSize:     cfg.BatchSize,
		ctx:           ctx,
		cancel:        cancel,
		flushInterval: cfg.FlushInterval,
		flushTrigger:  make(chan struct{}, 1),
	}
}

// Write implements io.Writer. It buffers the log entry and triggers a flush
// if the buffer is full. This method never returns an error to avoid
// disrupting logging when Loki is unavailable.
func (w *Writer) Write(p []byte) (n int, err error) {
	// Copy the line since zerolog reuses the buffer
	line := string(bytes.TrimSpace(p))
	if line == "" {
		return len(p), nil
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, entry{timestamp: time.Now(), line: line})
	shouldFlush := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if shouldFlush {
		// Non-blocking signal so logging never stalls on a slow flush
		select {
		case w.flushTrigger <- struct{}{}:
		default:
		}
	}

	return len(p), nil
}

// Start begins the background flush goroutine.
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.flush()
			case <-w.flushTrigger:
				w.flush()
			}
		}
	}()
}

// Stop gracefully shuts down the writer, flushing any remaining entries.
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()
	w.flush()
}

// flush swaps out the buffer and pushes it to Loki.
func (w *Writer) flush() {
	if !w.flushing.CompareAndSwap(false, true) {
		return // another flush is in progress
	}
	defer w.flushing.Store(false)

	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	entries := w.buffer
	w.buffer = make([]entry, 0, w.batchSize)
	w.mu.Unlock()

	w.push(entries)
}

// push sends one batch to the Loki push API.
func (w *Writer) push(entries []entry) {
	// Loki expects nanosecond timestamps as strings
	values := make([][]string, len(entries))
	for i, e := range entries {
		values[i] = []string{
			strconv.FormatInt(e.timestamp.UnixNano(), 10),
			e.line,
		}
	}

	payload := pushRequest{
		Streams: []stream{
			{Stream: w.labels, Values: values},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		w.reportError("failed to marshal payload: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+"/loki/api/v1/push", bytes.NewReader(data))
	if err != nil {
		w.reportError("failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.reportError("failed to send logs: %v", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		w.reportError("server returned status %d", resp.StatusCode)
	}
}

// reportError counts a flush failure and prints the first few to stderr.
// Writing through the logger here would loop back into this writer.
func (w *Writer) reportError(format string, args ...any) {
	if w.flushErrors.Add(1) <= 3 {
		fmt.Fprintf(os.Stderr, "loki: "+format+"\n", args...)
	}
}

// FlushErrors returns the count of flush errors (for monitoring/debugging).
func (w *Writer) FlushErrors() uint64 {
	return w.flushErrors.Load()
}
