package logger

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Time      time.Time
	Level     string
	Component string
	Message   string
}

// Buffer is a fixed-size ring of the most recent log entries.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	count   int
}

const defaultBufferSize = 10000

var (
	global     *Buffer
	bufferOnce sync.Once
)

// GlobalBuffer returns the process-wide buffer, creating it on first use.
func GlobalBuffer() *Buffer {
	bufferOnce.Do(func() {
		global = NewBuffer(defaultBufferSize)
	})
	return global
}

// SetBufferSize sets the capacity of the global buffer. Only effective when
// called before the first log line is captured; later calls are ignored.
func SetBufferSize(size int) {
	bufferOnce.Do(func() {
		global = NewBuffer(size)
	})
}

// NewBuffer creates a buffer retaining the last size entries.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{entries: make([]Entry, size)}
}

// Add records an entry, evicting the oldest once the ring is full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Recent returns up to limit entries, newest first. Entries below minLevel
// are skipped, as are entries older than since when since is positive.
// limit <= 0 means no limit.
func (b *Buffer) Recent(limit int, minLevel string, since time.Duration) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > b.count {
		limit = b.count
	}

	var cutoff time.Time
	if since > 0 {
		cutoff = time.Now().Add(-since)
	}

	var out []Entry
	for i := 0; i < b.count && len(out) < limit; i++ {
		idx := (b.next - 1 - i + len(b.entries)) % len(b.entries)
		e := b.entries[idx]
		if !cutoff.IsZero() && e.Time.Before(cutoff) {
			continue
		}
		if minLevel != "" && !levelAtLeast(e.Level, minLevel) {
			continue
		}
		out = append(out, e)
	}
	return out
}

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
	"fatal": 4,
	"panic": 5,
}

// levelAtLeast reports whether entry meets or exceeds min. Unknown levels
// match only by name.
func levelAtLeast(entry, min string) bool {
	e, ok1 := levelRank[strings.ToLower(entry)]
	m, ok2 := levelRank[strings.ToLower(min)]
	if !ok1 || !ok2 {
		return strings.EqualFold(entry, min)
	}
	return e >= m
}

// bufferWriter tees zerolog's JSON output into a Buffer before handing it
// to the real sink (which may be a ConsoleWriter).
type bufferWriter struct {
	buf *Buffer
	out io.Writer
}

func newBufferWriter(buf *Buffer, out io.Writer) *bufferWriter {
	return &bufferWriter{buf: buf, out: out}
}

func (w *bufferWriter) Write(p []byte) (n int, err error) {
	if w.out != nil {
		n, err = w.out.Write(p)
	} else {
		n = len(p)
	}
	if e, ok := parseLine(p); ok {
		w.buf.Add(e)
	}
	return n, err
}

// parseLine decodes one zerolog JSON line. The time field is unix seconds
// (zerolog.TimeFormatUnix, set in Setup).
func parseLine(p []byte) (Entry, bool) {
	var raw struct {
		Level     string  `json:"level"`
		Component string  `json:"component"`
		Message   string  `json:"message"`
		Time      float64 `json:"time"`
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		return Entry{}, false
	}
	if raw.Level == "" && raw.Message == "" {
		return Entry{}, false
	}
	e := Entry{
		Level:     raw.Level,
		Component: raw.Component,
		Message:   raw.Message,
		Time:      time.Now(),
	}
	if raw.Time > 0 {
		sec := int64(raw.Time)
		nsec := int64((raw.Time - float64(sec)) * float64(time.Second))
		e.Time = time.Unix(sec, nsec)
	}
	return e, true
}
