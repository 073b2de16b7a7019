package logchan

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/transcanvas/pkg/schema"
)

func TestRegistryOpenIsPerOwner(t *testing.T) {
	r := NewRegistry(0)
	a := r.Open("orders")
	b := r.Open("billing")

	assert.Same(t, a, r.Open("orders"))
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "orders", a.Owner())
	assert.Equal(t, 2, r.Len())

	got, err := r.Get(b.ID())
	require.NoError(t, err)
	assert.Same(t, b, got)

	r.Remove("billing")
	_, err = r.Get(b.ID())
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.Equal(t, 1, r.Len())
}

func TestChannelWriteSplitsLines(t *testing.T) {
	c := NewRegistry(0).Open("orders")

	n, err := c.Write([]byte("first\nsecond\r\nthi"))
	require.NoError(t, err)
	assert.Equal(t, 17, n)
	assert.Equal(t, 2, c.Len())

	_, _ = c.Write([]byte("rd\n\n"))
	lines, cursor := c.Since(0)
	require.Len(t, lines, 3)
	assert.Equal(t, "second", lines[1].Text)
	assert.Equal(t, "third", lines[2].Text)
	assert.Equal(t, int64(3), cursor)
}

func TestChannelCursor(t *testing.T) {
	c := NewRegistry(0).Open("orders")
	c.Append("a")
	c.Append("b")
	_, cursor := c.Since(0)

	c.Append("c")
	lines, next := c.Since(cursor)
	require.Len(t, lines, 1)
	assert.Equal(t, "c", lines[0].Text)
	assert.Equal(t, int64(3), next)
	assert.Equal(t, next, c.Cursor())
}

func TestChannelCapacityEvictsOldest(t *testing.T) {
	c := NewRegistry(3).Open("orders")
	for i := 1; i <= 5; i++ {
		c.Append(fmt.Sprintf("line %d", i))
	}
	lines, _ := c.Since(0)
	require.Len(t, lines, 3)
	assert.Equal(t, "line 3", lines[0].Text)
	assert.Equal(t, int64(3), lines[0].Seq)
}

func TestChannelClearKeepsSequence(t *testing.T) {
	c := NewRegistry(0).Open("orders")
	c.Append("old")
	_, cursor := c.Since(0)

	c.Clear()
	assert.Equal(t, 0, c.Len())

	c.Append("new")
	lines, _ := c.Since(cursor)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(2), lines[0].Seq)
}

func TestSnifferPicksErrorRecordsFromSlogOutput(t *testing.T) {
	c := NewRegistry(0).Open("orders")
	logger := slog.New(slog.NewJSONHandler(c, nil))
	logger.Info("rows read", slog.String("step", "A"), slog.Int("rows", 10))
	logger.Error("write failed", slog.String("step", "B"), slog.String("error", "disk full"))
	c.Append("plain text is ignored")

	lines, _ := c.Since(0)
	got, err := NewSniffer(nil, "", "").Sniff(context.Background(), lines)
	require.NoError(t, err)
	assert.Equal(t, []string{"B: write failed: disk full"}, got)
}

func TestSnifferCustomFilter(t *testing.T) {
	c := NewRegistry(0).Open("orders")
	c.Append(`{"level":"WARN","msg":"slow","step":"C"}`)
	c.Append(`{"level":"ERROR","msg":"boom"}`)

	lines, _ := c.Since(0)
	got, err := NewSniffer(nil, `.level == "WARN" or .level == "ERROR"`, `.msg`).Sniff(context.Background(), lines)
	require.NoError(t, err)
	assert.Equal(t, []string{"slow", "boom"}, got)
}

func TestSnifferBadFilter(t *testing.T) {
	lines := []Line{{Seq: 1, Text: `{"level":"ERROR"}`}}
	_, err := NewSniffer(nil, `.[`, "").Sniff(context.Background(), lines)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
