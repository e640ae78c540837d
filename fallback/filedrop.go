package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/agentmesh/errors"
)

// droppedFile is the on-disk record format for one spooled message.
type droppedFile struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
}

// FileDrop spools messages as individual JSON files in a directory.
// Messages survive process restarts; a recovery pass reads them back with
// ReadAll.
type FileDrop struct {
	mu       sync.Mutex
	dir      string
	priority int
	running  bool
}

// NewFileDrop creates the transport spooling into dir.
func NewFileDrop(dir string, priority int) *FileDrop {
	return &FileDrop{dir: dir, priority: priority}
}

// Name implements Transport.
func (f *FileDrop) Name() string { return "file" }

// Priority implements Transport.
func (f *FileDrop) Priority() int { return f.priority }

// Initialize creates the spool directory.
func (f *FileDrop) Initialize(_ context.Context) error {
	if f.dir == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "FileDrop", "Initialize", "spool dir is required")
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return errors.WrapFatal(err, "FileDrop", "Initialize", "create spool dir")
	}
	return nil
}

// Start implements Transport.
func (f *FileDrop) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

// Stop implements Transport.
func (f *FileDrop) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

// Send writes the message to a uniquely named spool file. The write goes
// through a temp file and rename so readers never see partial JSON.
func (f *FileDrop) Send(_ context.Context, topic string, data []byte) error {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if !running {
		return errors.WrapInvalid(errors.ErrNotStarted, "FileDrop", "Send", "transport stopped")
	}

	record := droppedFile{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return errors.WrapInvalid(errors.ErrSerialization, "FileDrop", "Send", "encode spool record")
	}

	name := fmt.Sprintf("%d_%s.json", record.Timestamp.UnixNano(), uuid.NewString())
	tmp := filepath.Join(f.dir, name+".tmp")
	final := filepath.Join(f.dir, name)

	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return errors.WrapTransient(errors.ErrTransportFailure, "FileDrop", "Send", "write spool file")
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return errors.WrapTransient(errors.ErrTransportFailure, "FileDrop", "Send", "finalize spool file")
	}
	return nil
}

// Healthy reports whether the spool directory is writable.
func (f *FileDrop) Healthy() bool {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if !running {
		return false
	}

	info, err := os.Stat(f.dir)
	return err == nil && info.IsDir()
}

// ReadAll returns every spooled message in write order and deletes the
// files. Used by the recovery pass when the primary transport returns.
func (f *FileDrop) ReadAll() ([]QueuedMessage, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrTransportFailure, "FileDrop", "ReadAll", "list spool dir")
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names) // nanosecond prefix keeps write order

	var out []QueuedMessage
	for _, name := range names {
		path := filepath.Join(f.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var record droppedFile
		if err := json.Unmarshal(raw, &record); err != nil {
			// Corrupt spool file: remove so it never blocks recovery again.
			_ = os.Remove(path)
			continue
		}
		out = append(out, QueuedMessage{Topic: record.Topic, Data: record.Data})
		_ = os.Remove(path)
	}
	return out, nil
}
