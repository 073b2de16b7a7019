// Package pipefile reads and writes pipeline files: HCL documents holding
// one diagram plus the run configuration it is usually started with.
//
//	pipeline "etl" {
//	  parameters  = { rows = "100" }
//	  variables   = { out = "=dir + \"/out\"" }
//
//	  step "read" {
//	    x      = 10
//	    y      = 10
//	    input  = false
//	  }
//	  step "write" {
//	    x          = 80
//	    y          = 10
//	    copies     = 2
//	    breakpoint = "status.errors > 0"
//	  }
//	  hop {
//	    from = "read"
//	    to   = "write"
//	  }
//	}
package pipefile

import (
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/rendis/transcanvas/internal/engine"
	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/pkg/schema"
)

type fileConfig struct {
	Pipeline pipelineBlock `hcl:"pipeline,block"`
}

type pipelineBlock struct {
	Name       string            `hcl:"name,label"`
	Parameters map[string]string `hcl:"parameters,optional"`
	Variables  map[string]string `hcl:"variables,optional"`
	Steps      []stepBlock       `hcl:"step,block"`
	Hops       []hopBlock        `hcl:"hop,block"`
	Notes      []noteBlock       `hcl:"note,block"`
}

type stepBlock struct {
	Name          string   `hcl:"name,label"`
	X             int      `hcl:"x,optional"`
	Y             int      `hcl:"y,optional"`
	Copies        int      `hcl:"copies,optional"`
	Input         *bool    `hcl:"input,optional"`
	Output        *bool    `hcl:"output,optional"`
	ErrorHandling bool     `hcl:"error_handling,optional"`
	Targets       []string `hcl:"targets,optional"`
	Infos         []string `hcl:"infos,optional"`
	Breakpoint    string   `hcl:"breakpoint,optional"`
}

type hopBlock struct {
	From    string `hcl:"from"`
	To      string `hcl:"to"`
	Stream  string `hcl:"stream,optional"`
	Slot    string `hcl:"slot,optional"`
	Enabled *bool  `hcl:"enabled,optional"`
}

type noteBlock struct {
	Text   string `hcl:"text"`
	X      int    `hcl:"x,optional"`
	Y      int    `hcl:"y,optional"`
	Width  int    `hcl:"width,optional"`
	Height int    `hcl:"height,optional"`
}

// Document is a decoded pipeline file.
type Document struct {
	Diagram *model.Diagram
	Run     engine.RunConfig
}

// Load parses and decodes the pipeline file at path.
func Load(path string) (*Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diagError(path, diags)
	}
	return decode(path, file)
}

// Parse decodes a pipeline document held in memory. filename labels
// diagnostics and becomes the diagram's Filename.
func Parse(src []byte, filename string) (*Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diagError(filename, diags)
	}
	return decode(filename, file)
}

func decode(filename string, file *hcl.File) (*Document, error) {
	var cfg fileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, diagError(filename, diags)
	}
	return build(filename, &cfg.Pipeline)
}

func diagError(filename string, diags hcl.Diagnostics) error {
	msgs := make([]string, 0, len(diags))
	for _, d := range diags {
		msgs = append(msgs, d.Error())
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "decode %s: %s", filename, diags.Error()).
		WithCause(diags).
		WithDetails(map[string]any{"diagnostics": msgs})
}

func build(filename string, p *pipelineBlock) (*Document, error) {
	d := model.New(p.Name)
	d.Filename = filename
	doc := &Document{
		Diagram: d,
		Run: engine.RunConfig{
			Parameters:  p.Parameters,
			Variables:   p.Variables,
			Breakpoints: map[string]string{},
		},
	}

	for _, sb := range p.Steps {
		meta := &model.BasicMeta{
			Input:         boolOr(sb.Input, true),
			Output:        boolOr(sb.Output, true),
			ErrorHandling: sb.ErrorHandling,
		}
		for _, name := range sb.Targets {
			meta.Targets = append(meta.Targets, &model.Stream{Name: name, Type: schema.StreamTarget})
		}
		for _, name := range sb.Infos {
			meta.Infos = append(meta.Infos, &model.Stream{Name: name, Type: schema.StreamInfo})
		}
		step := &model.Step{
			Name:     sb.Name,
			Location: geometry.Point{X: sb.X, Y: sb.Y},
			Copies:   sb.Copies,
			Meta:     meta,
		}
		if err := d.AddStep(step); err != nil {
			return nil, err
		}
		if sb.Breakpoint != "" {
			doc.Run.Breakpoints[sb.Name] = sb.Breakpoint
		}
	}

	for _, hb := range p.Hops {
		if err := addHop(d, hb); err != nil {
			return nil, err
		}
	}
	for _, s := range d.Steps {
		if d.HasLoop(s) {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "pipeline %q loops through step %q", p.Name, s.Name).WithStep(s.Name)
		}
	}

	for _, nb := range p.Notes {
		d.AddNote(&model.Note{
			Text:     nb.Text,
			Location: geometry.Point{X: nb.X, Y: nb.Y},
			Width:    nb.Width,
			Height:   nb.Height,
		})
	}
	d.ClearChanged()
	return doc, nil
}

func addHop(d *model.Diagram, hb hopBlock) error {
	from, to := d.FindStep(hb.From), d.FindStep(hb.To)
	if from == nil || to == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "hop %s->%s references an unknown step", hb.From, hb.To)
	}
	stream := schema.StreamMain
	if hb.Stream != "" {
		stream = schema.StreamType(strings.ToUpper(hb.Stream))
	}
	if !stream.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "hop %s->%s: unknown stream %q", hb.From, hb.To, hb.Stream)
	}
	hop := &model.Hop{From: from, To: to, Enabled: boolOr(hb.Enabled, true), Stream: stream}
	if err := d.AddHop(hop); err != nil {
		return err
	}
	if hb.Slot == "" {
		return nil
	}

	var slot *model.Stream
	switch stream {
	case schema.StreamTarget:
		slot = findSlot(from.Meta.TargetStreams(), hb.Slot)
		if slot != nil {
			slot.Step = to
			from.Meta.StreamSelected(slot)
		}
	case schema.StreamInfo:
		slot = findSlot(to.Meta.InfoStreams(), hb.Slot)
		if slot != nil {
			slot.Step = from
			to.Meta.StreamSelected(slot)
		}
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "hop %s: slot %q needs a TARGET or INFO stream", hop, hb.Slot)
	}
	if slot == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "hop %s: no %s stream named %q", hop, stream, hb.Slot)
	}
	return nil
}

func findSlot(streams []*model.Stream, name string) *model.Stream {
	for _, s := range streams {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
