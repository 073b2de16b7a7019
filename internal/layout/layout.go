// Package layout repositions every step of a diagram with a force-directed
// relaxation. A run is synchronous and bounded; it never yields mid-way.
package layout

import (
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/internal/undo"
	"github.com/rendis/transcanvas/pkg/schema"
)

// Params tunes the relaxation. Zero fields take the defaults.
type Params struct {
	Repulsion       float64 `json:"repulsion"`
	Attraction      float64 `json:"attraction"`
	Damping         float64 `json:"damping"`
	Timestep        float64 `json:"timestep"`
	Mass            float64 `json:"mass"`
	MaxVelocity     float64 `json:"max_velocity"`
	EnergyThreshold float64 `json:"energy_threshold"`
	MaxIterations   int     `json:"max_iterations"`
}

// DefaultParams settles two connected steps roughly 100 units apart.
func DefaultParams() Params {
	return Params{
		Repulsion:       500,
		Attraction:      0.0005,
		Damping:         0.5,
		Timestep:        1,
		Mass:            1,
		MaxVelocity:     8,
		EnergyThreshold: 0.05,
		MaxIterations:   1000,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.Repulsion <= 0 {
		p.Repulsion = def.Repulsion
	}
	if p.Attraction <= 0 {
		p.Attraction = def.Attraction
	}
	if p.Damping <= 0 || p.Damping >= 1 {
		p.Damping = def.Damping
	}
	if p.Timestep <= 0 {
		p.Timestep = def.Timestep
	}
	if p.Mass <= 0 {
		p.Mass = def.Mass
	}
	if p.MaxVelocity <= 0 {
		p.MaxVelocity = def.MaxVelocity
	}
	if p.EnergyThreshold <= 0 {
		p.EnergyThreshold = def.EnergyThreshold
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = def.MaxIterations
	}
	return p
}

// Result summarizes one run.
type Result struct {
	Iterations int
	Energy     float64
	Residual   float64
	Converged  bool
	Moved      int
}

// Layouter runs the relaxation. It rejects overlapping runs.
type Layouter struct {
	params  Params
	undo    undo.Sink
	logger  *slog.Logger
	running atomic.Bool
}

// New creates a layouter. A nil sink discards the position record.
func New(p Params, sink undo.Sink, logger *slog.Logger) *Layouter {
	if sink == nil {
		sink = undo.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Layouter{params: p.withDefaults(), undo: sink, logger: logger}
}

// Params returns the effective parameters.
func (l *Layouter) Params() Params { return l.params }

type body struct {
	step   *model.Step
	x, y   float64
	vx, vy float64
	fx, fy float64
}

// Run relaxes d until both the kinetic energy and the residual force drop
// below the threshold, or the iteration bound is hit, then writes positions
// back as one undo record.
func (l *Layouter) Run(d *model.Diagram) (Result, error) {
	if !l.running.CompareAndSwap(false, true) {
		return Result{}, schema.NewError(schema.ErrCodeBusy, "auto-layout is already running")
	}
	defer l.running.Store(false)

	if len(d.Steps) < 2 {
		return Result{Converged: true}, nil
	}

	bodies, index := l.bodies(d)
	edges := make([][2]int, 0, len(d.Hops))
	for _, h := range d.Hops {
		a, okA := index[h.From]
		b, okB := index[h.To]
		if okA && okB {
			edges = append(edges, [2]int{a, b})
		}
	}
	cx, cy := centroid(bodies)

	var res Result
	for res.Iterations < l.params.MaxIterations {
		res.Iterations++
		l.accumulate(bodies, edges)
		res.Energy, res.Residual = l.integrate(bodies)
		recenter(bodies, cx, cy)
		if res.Energy < l.params.EnergyThreshold && res.Residual < l.params.EnergyThreshold {
			res.Converged = true
			break
		}
	}

	res.Moved = l.apply(d, bodies)
	l.logger.Info("auto-layout finished",
		slog.String("diagram", d.Name),
		slog.Int("iterations", res.Iterations),
		slog.Float64("energy", res.Energy),
		slog.Float64("residual", res.Residual),
		slog.Bool("converged", res.Converged),
		slog.Int("moved", res.Moved))
	return res, nil
}

func (l *Layouter) bodies(d *model.Diagram) ([]body, map[*model.Step]int) {
	bodies := make([]body, len(d.Steps))
	index := make(map[*model.Step]int, len(d.Steps))
	for i, s := range d.Steps {
		c := s.Center(d.IconSize)
		bodies[i] = body{step: s, x: float64(c.X), y: float64(c.Y)}
		index[s] = i
	}
	return bodies, index
}

// accumulate computes per-axis forces: inverse-distance repulsion between
// every pair and squared-distance attraction along every hop.
func (l *Layouter) accumulate(bodies []body, edges [][2]int) {
	for i := range bodies {
		bodies[i].fx, bodies[i].fy = 0, 0
	}
	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			dx := bodies[i].x - bodies[j].x
			dy := bodies[i].y - bodies[j].y
			dist2 := dx*dx + dy*dy
			if dist2 < 1 {
				// coincident bodies: push apart along x, deterministically by index
				dx, dist2 = 1, 1
			}
			fx := l.params.Repulsion * dx / dist2
			fy := l.params.Repulsion * dy / dist2
			bodies[i].fx += fx
			bodies[i].fy += fy
			bodies[j].fx -= fx
			bodies[j].fy -= fy
		}
	}
	for _, e := range edges {
		a, b := &bodies[e[0]], &bodies[e[1]]
		dx := b.x - a.x
		dy := b.y - a.y
		fx := l.params.Attraction * dx * math.Abs(dx)
		fy := l.params.Attraction * dy * math.Abs(dy)
		a.fx += fx
		a.fy += fy
		b.fx -= fx
		b.fy -= fy
	}
}

// integrate applies v' = (v + dt*F) * damping and p' = p + mass*v'^2, where
// the squared displacement keeps the sign of v'. It returns the total
// kinetic energy and the summed magnitude of dt*F.
func (l *Layouter) integrate(bodies []body) (energy, residual float64) {
	p := l.params
	for i := range bodies {
		b := &bodies[i]
		residual += p.Timestep * (math.Abs(b.fx) + math.Abs(b.fy))
		b.vx = clamp((b.vx+p.Timestep*b.fx)*p.Damping, p.MaxVelocity)
		b.vy = clamp((b.vy+p.Timestep*b.fy)*p.Damping, p.MaxVelocity)
		b.x += p.Mass * b.vx * math.Abs(b.vx)
		b.y += p.Mass * b.vy * math.Abs(b.vy)
		energy += p.Mass * (b.vx*b.vx + b.vy*b.vy)
	}
	return energy, residual
}

func (l *Layouter) apply(d *model.Diagram, bodies []body) int {
	half := d.IconSize / 2
	var rec undo.Position
	for _, b := range bodies {
		to := geometry.Point{X: int(math.Round(b.x)) - half, Y: int(math.Round(b.y)) - half}
		if to == b.step.Location {
			continue
		}
		rec.Moves = append(rec.Moves, undo.Move{Step: b.step, From: b.step.Location, To: to})
		b.step.Location = to
	}
	if len(rec.Moves) > 0 {
		l.undo.Add(rec)
		d.SetChanged()
	}
	return len(rec.Moves)
}

func centroid(bodies []body) (float64, float64) {
	var sx, sy float64
	for _, b := range bodies {
		sx += b.x
		sy += b.y
	}
	n := float64(len(bodies))
	return sx / n, sy / n
}

func recenter(bodies []body, cx, cy float64) {
	nx, ny := centroid(bodies)
	dx, dy := cx-nx, cy-ny
	for i := range bodies {
		bodies[i].x += dx
		bodies[i].y += dy
	}
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
