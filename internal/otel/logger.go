package otel

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// pendingLimit bounds how many encoded events may wait for the writer.
const pendingLimit = 4096

// record is one encoded journal line plus the event it came from; the ring
// keeps the event, the file gets the line.
type record struct {
	line []byte
	ev   Event
}

// Logger appends events to a JSONL journal from a single writer goroutine.
// Emit never blocks the pipeline: when the writer falls behind, events are
// counted as dropped instead.
type Logger struct {
	session string
	out     io.Writer
	file    io.Closer // non-nil when the Logger opened out itself

	pending chan record
	stopped chan struct{}

	ringMu sync.Mutex
	ring   *RingBuffer

	dropped  atomic.Uint64
	shut     atomic.Bool
	shutOnce sync.Once
}

// NewLogger starts a journal writing to w. Close must be called to flush.
func NewLogger(w io.Writer) *Logger {
	l := &Logger{
		session: uuid.NewString(),
		out:     w,
		pending: make(chan record, pendingLimit),
		stopped: make(chan struct{}),
	}
	go l.write()
	return l
}

// OpenJournal appends to the file at path, creating its directory.
func OpenJournal(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	l := NewLogger(f)
	l.file = f
	return l, nil
}

// NewNullLogger returns a journal that keeps nothing on disk. Attached ring
// buffers still see every event.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

func (l *Logger) write() {
	defer close(l.stopped)
	for rec := range l.pending {
		if _, err := l.out.Write(rec.line); err != nil {
			l.dropped.Add(1)
		}
		if rb := l.ringBuffer(); rb != nil {
			rb.Push(rec.ev)
		}
	}
}

func (l *Logger) ringBuffer() *RingBuffer {
	l.ringMu.Lock()
	defer l.ringMu.Unlock()
	return l.ring
}

// Emit stamps e with the session id, a time and a level when missing, and
// queues it for the writer.
func (l *Logger) Emit(e Event) {
	if l.shut.Load() {
		l.dropped.Add(1)
		return
	}
	// Close may shut pending between the check above and the send below.
	defer func() {
		if recover() != nil {
			l.dropped.Add(1)
		}
	}()

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	e.SessionID = l.session

	line, err := json.Marshal(e)
	if err != nil {
		l.dropped.Add(1)
		return
	}

	select {
	case l.pending <- record{line: append(line, '\n'), ev: e}:
	default:
		l.dropped.Add(1)
	}
}

func (l *Logger) Info(kind EventKind, comp, msg string) {
	l.Emit(Event{Level: LevelInfo, Kind: kind, Comp: comp, Msg: msg})
}

func (l *Logger) Warn(kind EventKind, comp, msg string) {
	l.Emit(Event{Level: LevelWarn, Kind: kind, Comp: comp, Msg: msg})
}

// Error journals err at error level; a nil err leaves the field empty.
func (l *Logger) Error(kind EventKind, comp string, err error) {
	e := Event{Level: LevelError, Kind: kind, Comp: comp}
	if err != nil {
		e.Err = err.Error()
	}
	l.Emit(e)
}

// SetRingBuffer mirrors every written event into rb for the debug view.
func (l *Logger) SetRingBuffer(rb *RingBuffer) {
	l.ringMu.Lock()
	l.ring = rb
	l.ringMu.Unlock()
}

// SessionID identifies this process run in the journal.
func (l *Logger) SessionID() string {
	return l.session
}

// Dropped counts events that never reached the journal.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close waits for queued events to be written, closes a journal file opened
// by OpenJournal and reports any losses on stderr.
func (l *Logger) Close() {
	l.shutOnce.Do(func() {
		l.shut.Store(true)
		close(l.pending)
		<-l.stopped

		if l.file != nil {
			if err := l.file.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "icewatch: close journal: %v\n", err)
			}
		}
		if n := l.dropped.Load(); n > 0 {
			fmt.Fprintf(os.Stderr, "icewatch: %d journal events dropped during session %s\n", n, l.session)
		}
	})
}
