package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/neogan74/auditlens/internal/audit"
)

// JSONLines appends one JSON document per record to a writer.
type JSONLines struct {
	mu     sync.Mutex
	writer *bufio.Writer
	closer io.Closer
}

// NewJSONLines writes to w. Close does not close w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{writer: bufio.NewWriter(w)}
}

// OpenJSONLines appends to the file at path, creating it and its directory.
func OpenJSONLines(path string) (*JSONLines, error) {
	if path == "" {
		return nil, fmt.Errorf("notification file path cannot be empty")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create notification log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification log file: %w", err)
	}

	return &JSONLines{writer: bufio.NewWriter(file), closer: file}, nil
}

func (j *JSONLines) Name() string { return "file" }

// Notify writes and flushes a single line.
func (j *JSONLines) Notify(_ context.Context, rec *audit.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.writer.Write(payload); err != nil {
		return err
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return err
	}
	return j.writer.Flush()
}

func (j *JSONLines) Close(ctx context.Context) error {
	done := make(chan struct{})
	var flushErr error

	go func() {
		j.mu.Lock()
		flushErr = j.writer.Flush()
		j.mu.Unlock()
		if j.closer != nil {
			if err := j.closer.Close(); err != nil && flushErr == nil {
				flushErr = err
			}
		}
		close(done)
	}()

	select {
	case <-done:
		return flushErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
