// ABOUTME: Best-effort disk transcript of every engine round trip and raw prompt dump
// ABOUTME: Producers enqueue without blocking; a single worker goroutine does all file I/O

package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/2389/wormhole-gateway/internal/store"
)

// RawDumpDir is the subdirectory holding raw prompt dumps.
const RawDumpDir = "raw_dumps"

type taskKind int

const (
	taskTurn taskKind = iota
	taskRawDump
)

type task struct {
	kind           taskKind
	conversationID string
	system         string
	prompt         string
	response       string
	at             time.Time
}

// Writer persists transcripts under a base directory. Failures are logged
// and never reach the caller.
type Writer struct {
	dir    string
	turns  store.Store
	logger *slog.Logger

	mu     sync.Mutex
	queue  []task
	closed bool
	wake   chan struct{}
	done   chan struct{}

	// now is swapped in tests.
	now func() time.Time
}

// New creates the base directories and starts the worker. Directory
// creation failures are logged; every write retries them.
func New(dir string, turns store.Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		dir:    dir,
		turns:  turns,
		logger: logger.With("component", "transcript"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	if err := os.MkdirAll(filepath.Join(dir, RawDumpDir), 0755); err != nil {
		w.logger.Warn("creating transcript directories", "dir", dir, "error", err)
	}

	go w.run()
	w.logger.Info("transcript writer started", "dir", dir)
	return w
}

// LogTurn queues one prompt/system/response triple for conversationID.
func (w *Writer) LogTurn(conversationID, prompt, system, response string) {
	w.enqueue(task{
		kind:           taskTurn,
		conversationID: conversationID,
		system:         system,
		prompt:         prompt,
		response:       response,
	})
}

// DumpRaw queues a copy of the client's raw system and user messages.
func (w *Writer) DumpRaw(system, user string) {
	w.enqueue(task{
		kind:   taskRawDump,
		system: system,
		prompt: user,
		at:     w.now(),
	})
}

func (w *Writer) enqueue(t task) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Debug("transcript writer closed, dropping entry")
		return
	}
	w.queue = append(w.queue, t)
	// Signalled under the lock so Close cannot close wake mid-send.
	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.mu.Unlock()
}

// Pending reports how many entries are waiting for the worker.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Close stops accepting entries and waits for the queue to drain or for
// ctx to end, whichever comes first.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.wake)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("transcript queue not drained", "remaining", w.Pending())
		return fmt.Errorf("draining transcript queue: %w", ctx.Err())
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		_, open := <-w.wake
		for {
			batch := w.take()
			if len(batch) == 0 {
				break
			}
			for _, t := range batch {
				w.process(t)
			}
		}
		if !open {
			return
		}
	}
}

func (w *Writer) take() []task {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.queue
	w.queue = nil
	return batch
}

func (w *Writer) process(t task) {
	var err error
	switch t.kind {
	case taskTurn:
		err = w.writeTurn(t)
	case taskRawDump:
		err = w.writeRawDump(t)
	}
	if err != nil {
		w.logger.Error("writing transcript", "conversation_id", t.conversationID, "error", err)
	}
}

func (w *Writer) writeTurn(t task) error {
	index, err := w.turns.RecordTurn(context.Background(), t.conversationID, len(t.prompt), len(t.response))
	if err != nil {
		return err
	}

	convDir := filepath.Join(w.dir, SafeName(t.conversationID))
	if err := os.MkdirAll(convDir, 0755); err != nil {
		return fmt.Errorf("creating conversation directory: %w", err)
	}

	files := []struct {
		suffix  string
		content string
	}{
		{"system", t.system},
		{"prompt", t.prompt},
		{"response", t.response},
	}
	for _, f := range files {
		path := filepath.Join(convDir, fmt.Sprintf("%d_%s.md", index, f.suffix))
		if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	w.logger.Debug("transcript turn saved", "conversation_id", t.conversationID, "index", index)
	return nil
}

func (w *Writer) writeRawDump(t task) error {
	dumpDir := filepath.Join(w.dir, RawDumpDir)
	if err := os.MkdirAll(dumpDir, 0755); err != nil {
		return fmt.Errorf("creating raw dump directory: %w", err)
	}

	stamp := t.at.Unix()
	if err := os.WriteFile(filepath.Join(dumpDir, fmt.Sprintf("system_%d.md", stamp)), []byte(t.system), 0644); err != nil {
		return fmt.Errorf("writing system dump: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dumpDir, fmt.Sprintf("user_%d.md", stamp)), []byte(t.prompt), 0644); err != nil {
		return fmt.Errorf("writing user dump: %w", err)
	}

	w.logger.Debug("raw dump saved", "timestamp", stamp)
	return nil
}

// SafeName turns a conversation id into a single path element.
func SafeName(id string) string {
	id = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, id)
	if id == "" || id == "." || id == ".." || id == RawDumpDir {
		return "_" + id
	}
	return id
}
