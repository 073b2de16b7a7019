package pipefile

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/rendis/transcanvas/internal/engine"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/pkg/schema"
)

// Encode renders d and run as a pipeline file.
func Encode(d *model.Diagram, run engine.RunConfig) []byte {
	f := hclwrite.NewEmptyFile()
	pb := f.Body().AppendNewBlock("pipeline", []string{d.Name}).Body()
	if len(run.Parameters) > 0 {
		pb.SetAttributeValue("parameters", stringMap(run.Parameters))
	}
	if len(run.Variables) > 0 {
		pb.SetAttributeValue("variables", stringMap(run.Variables))
	}

	for _, s := range d.Steps {
		pb.AppendNewline()
		sb := pb.AppendNewBlock("step", []string{s.Name}).Body()
		sb.SetAttributeValue("x", cty.NumberIntVal(int64(s.Location.X)))
		sb.SetAttributeValue("y", cty.NumberIntVal(int64(s.Location.Y)))
		if s.Copies > 1 {
			sb.SetAttributeValue("copies", cty.NumberIntVal(int64(s.Copies)))
		}
		if m := s.Meta; m != nil {
			if !m.AcceptsInput() {
				sb.SetAttributeValue("input", cty.False)
			}
			if !m.ProducesOutput() {
				sb.SetAttributeValue("output", cty.False)
			}
			if m.SupportsErrorHandling() {
				sb.SetAttributeValue("error_handling", cty.True)
			}
			if names := streamNames(m.TargetStreams()); len(names) > 0 {
				sb.SetAttributeValue("targets", cty.ListVal(names))
			}
			if names := streamNames(m.InfoStreams()); len(names) > 0 {
				sb.SetAttributeValue("infos", cty.ListVal(names))
			}
		}
		if cond := run.Breakpoints[s.Name]; cond != "" {
			sb.SetAttributeValue("breakpoint", cty.StringVal(cond))
		}
	}

	for _, h := range d.Hops {
		pb.AppendNewline()
		hb := pb.AppendNewBlock("hop", nil).Body()
		hb.SetAttributeValue("from", cty.StringVal(h.From.Name))
		hb.SetAttributeValue("to", cty.StringVal(h.To.Name))
		if h.Stream != schema.StreamMain {
			hb.SetAttributeValue("stream", cty.StringVal(string(h.Stream)))
		}
		if slot := slotOf(h); slot != "" {
			hb.SetAttributeValue("slot", cty.StringVal(slot))
		}
		if !h.Enabled {
			hb.SetAttributeValue("enabled", cty.False)
		}
	}

	for _, n := range d.Notes {
		pb.AppendNewline()
		nb := pb.AppendNewBlock("note", nil).Body()
		nb.SetAttributeValue("text", cty.StringVal(n.Text))
		nb.SetAttributeValue("x", cty.NumberIntVal(int64(n.Location.X)))
		nb.SetAttributeValue("y", cty.NumberIntVal(int64(n.Location.Y)))
		nb.SetAttributeValue("width", cty.NumberIntVal(int64(n.Width)))
		nb.SetAttributeValue("height", cty.NumberIntVal(int64(n.Height)))
	}
	return f.Bytes()
}

func stringMap(m map[string]string) cty.Value {
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = cty.StringVal(v)
	}
	return cty.MapVal(vals)
}

func streamNames(streams []*model.Stream) []cty.Value {
	var out []cty.Value
	for _, s := range streams {
		out = append(out, cty.StringVal(s.Name))
	}
	return out
}

// slotOf returns the name of the stream slot a TARGET or INFO hop fills.
func slotOf(h *model.Hop) string {
	switch h.Stream {
	case schema.StreamTarget:
		if h.From.Meta != nil {
			for _, s := range h.From.Meta.TargetStreams() {
				if s.Step == h.To {
					return s.Name
				}
			}
		}
	case schema.StreamInfo:
		if h.To.Meta != nil {
			for _, s := range h.To.Meta.InfoStreams() {
				if s.Step == h.From {
					return s.Name
				}
			}
		}
	}
	return ""
}

// Saver writes diagrams back to a pipeline file. Run is written alongside so
// a reload starts with the same configuration.
type Saver struct {
	Path string
	Run  engine.RunConfig
}

var _ engine.Saver = (*Saver)(nil)

// Save replaces the file atomically.
func (s *Saver) Save(ctx context.Context, d *model.Diagram) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Path == "" {
		return schema.NewError(schema.ErrCodeValidation, "pipeline file has no path")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".pipeline-*")
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save %s: %s", s.Path, err.Error()).WithCause(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(Encode(d, s.Run)); err != nil {
		tmp.Close()
		return schema.NewErrorf(schema.ErrCodeStore, "save %s: %s", s.Path, err.Error()).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save %s: %s", s.Path, err.Error()).WithCause(err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save %s: %s", s.Path, err.Error()).WithCause(err)
	}
	return nil
}
