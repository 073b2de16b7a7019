// Package logchan keeps per-diagram log channels. The engine writes lines
// into a channel, the controller reads them incrementally with a cursor
// and sniffs error text out of them.
package logchan

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/transcanvas/pkg/schema"
)

// DefaultCapacity bounds the lines kept per channel.
const DefaultCapacity = 5000

// Line is one log line with its channel-wide sequence number.
type Line struct {
	Seq  int64
	Time time.Time
	Text string
}

// Channel is a bounded, concurrency-safe line buffer. It implements
// io.Writer so an slog handler can write straight into it.
type Channel struct {
	id       string
	owner    string
	capacity int

	mu      sync.Mutex
	lines   []Line
	seq     int64
	partial []byte
}

// ID returns the channel identifier.
func (c *Channel) ID() string { return c.id }

// Owner returns the diagram the channel belongs to.
func (c *Channel) Owner() string { return c.owner }

// Write splits p into lines; a trailing fragment waits for its newline.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := append(c.partial, p...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(buf[:i], "\r"); len(line) > 0 {
			c.appendLocked(string(line))
		}
		buf = buf[i+1:]
	}
	c.partial = append([]byte(nil), buf...)
	return len(p), nil
}

// Append adds one complete line.
func (c *Channel) Append(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(text)
}

func (c *Channel) appendLocked(text string) {
	c.seq++
	c.lines = append(c.lines, Line{Seq: c.seq, Time: time.Now(), Text: text})
	if over := len(c.lines) - c.capacity; over > 0 {
		c.lines = append(c.lines[:0:0], c.lines[over:]...)
	}
}

// Since returns the lines after cursor and the new cursor. Lines evicted
// by the capacity bound are skipped silently.
func (c *Channel) Since(cursor int64) ([]Line, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Line
	for _, l := range c.lines {
		if l.Seq > cursor {
			out = append(out, l)
		}
	}
	return out, c.seq
}

// Cursor returns the sequence number of the last line written.
func (c *Channel) Cursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Len returns the number of buffered lines.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Clear drops every buffered line. Sequence numbers keep increasing so
// old cursors never match new lines.
func (c *Channel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.partial = nil
}

// Registry owns the channels of one hosting application.
type Registry struct {
	mu       sync.Mutex
	capacity int
	byID     map[string]*Channel
	byOwner  map[string]*Channel
}

// NewRegistry creates a registry whose channels keep capacity lines;
// capacity <= 0 selects DefaultCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		byID:     make(map[string]*Channel),
		byOwner:  make(map[string]*Channel),
	}
}

// Open returns the channel of owner, creating it on first use.
func (r *Registry) Open(owner string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byOwner[owner]; ok {
		return c
	}
	c := &Channel{id: uuid.NewString(), owner: owner, capacity: r.capacity}
	r.byID[c.id] = c
	r.byOwner[owner] = c
	return c
}

// Get looks a channel up by ID.
func (r *Registry) Get(id string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "log channel %q not found", id)
	}
	return c, nil
}

// Remove discards the channel of owner.
func (r *Registry) Remove(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byOwner[owner]; ok {
		delete(r.byOwner, owner)
		delete(r.byID, c.id)
	}
}

// Len returns the number of open channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
