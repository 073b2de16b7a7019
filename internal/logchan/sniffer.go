package logchan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/transcanvas/internal/expressions"
)

const (
	// DefaultErrorFilter selects error records written by a JSON slog handler.
	DefaultErrorFilter = `.level == "ERROR"`
	// DefaultErrorFormat renders a selected record as "step: msg: error".
	DefaultErrorFormat = `[.step, .msg, .error] | map(select(. != null and . != "")) | join(": ")`
)

// Sniffer extracts error text from structured log lines. Lines that are
// not JSON objects are ignored.
type Sniffer struct {
	jq     *expressions.GoJQEngine
	filter string
	format string
}

// NewSniffer builds a sniffer; empty filter or format take the defaults.
func NewSniffer(jq *expressions.GoJQEngine, filter, format string) *Sniffer {
	if jq == nil {
		jq = expressions.NewGoJQEngine()
	}
	if filter == "" {
		filter = DefaultErrorFilter
	}
	if format == "" {
		format = DefaultErrorFormat
	}
	return &Sniffer{jq: jq, filter: filter, format: format}
}

// Sniff returns one rendered line per error record found in lines.
func (s *Sniffer) Sniff(ctx context.Context, lines []Line) ([]string, error) {
	var out []string
	for _, l := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(l.Text), &rec); err != nil {
			continue
		}
		hit, err := s.jq.Match(ctx, s.filter, rec)
		if err != nil {
			return out, err
		}
		if !hit {
			continue
		}
		v, err := s.jq.Evaluate(ctx, s.format, rec)
		if err != nil {
			return out, err
		}
		if v == nil {
			out = append(out, l.Text)
			continue
		}
		out = append(out, strings.TrimSpace(fmt.Sprint(v)))
	}
	return out, nil
}
