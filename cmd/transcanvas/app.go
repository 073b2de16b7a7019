package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gdamore/tcell/v2"

	"github.com/rendis/transcanvas/internal/config"
	"github.com/rendis/transcanvas/internal/dispatch"
	"github.com/rendis/transcanvas/internal/editor"
	"github.com/rendis/transcanvas/internal/engine"
	"github.com/rendis/transcanvas/internal/geometry"
	"github.com/rendis/transcanvas/internal/layout"
	"github.com/rendis/transcanvas/internal/logchan"
	"github.com/rendis/transcanvas/internal/logging"
	"github.com/rendis/transcanvas/internal/model"
	"github.com/rendis/transcanvas/internal/pipefile"
	"github.com/rendis/transcanvas/internal/simengine"
	"github.com/rendis/transcanvas/internal/store"
	"github.com/rendis/transcanvas/internal/streaming"
	"github.com/rendis/transcanvas/internal/tui"
	"github.com/rendis/transcanvas/internal/undo"
	"github.com/rendis/transcanvas/pkg/schema"
)

//go:embed demo.hcl
var demoPipeline []byte

type app struct {
	cfg    config.Config
	logger *slog.Logger

	screen  tcell.Screen
	surface *tui.Surface
	painter *tui.Painter
	dialogs *tui.Dialogs

	queue    *dispatch.Queue
	pool     *engine.WorkerPool
	registry store.Registry
	hub      *streaming.MemoryHub
	ctrl     *engine.Controller
	canvas   *editor.Canvas
	layouter *layout.Layouter

	doc     *pipefile.Document
	saver   *pipefile.Saver
	message string
}

func runEditor(args []string) error {
	fs := flag.NewFlagSet("transcanvas", flag.ExitOnError)
	settings := fs.String("config", config.SettingsPath(), "settings.json path")
	logPath := fs.String("log", filepath.Join(config.Dir(), "transcanvas.log"), "log file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*settings, nil)
	if err != nil {
		return err
	}
	doc, path, err := openPipeline(fs.Arg(0))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(*logPath), 0o700); err != nil {
		return err
	}
	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logging.New(cfg.LogLevel, cfg.LogFormat, logFile), doc, path)
	if err != nil {
		return err
	}
	defer a.close()
	return a.run(ctx)
}

// openPipeline loads path, or the built-in demo when path is empty or does
// not exist yet. The demo is saved to path on the first save.
func openPipeline(path string) (*pipefile.Document, string, error) {
	if path != "" {
		doc, err := pipefile.Load(path)
		if err == nil {
			return doc, path, nil
		}
		if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
			return nil, "", err
		}
	} else {
		path = "demo.hcl"
	}
	doc, err := pipefile.Parse(demoPipeline, path)
	return doc, path, err
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, doc *pipefile.Document, path string) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		doc:    doc,
		saver:  &pipefile.Saver{Path: path, Run: doc.Run},
		queue:  dispatch.NewQueue(),
		hub:    streaming.NewMemoryHub(64),
		pool:   engine.NewWorkerPool(cfg.PrepPoolSize),
	}

	var err error
	if a.registry, err = openRegistry(ctx, cfg.DBPath); err != nil {
		return nil, err
	}
	schedule, err := dispatch.ParseSchedule(cfg.RefreshSchedule)
	if err != nil {
		return nil, err
	}

	if a.screen, err = tcell.NewScreen(); err != nil {
		return nil, err
	}
	if err := a.screen.Init(); err != nil {
		return nil, err
	}
	a.screen.EnableMouse(tcell.MouseMotionEvents)
	a.screen.EnableFocus()

	a.surface = tui.NewSurface(a.screen, tui.DefaultCell)
	a.painter = tui.NewPainter(a.screen, tui.DefaultCell)
	a.painter.Status = a.status
	a.dialogs = tui.NewDialogs(a.screen)

	journal := undo.NewJournal(cfg.UndoDepth)
	a.canvas = editor.NewCanvas(doc.Diagram, a.surface, a.painter, editor.Options{
		MinZoom:      cfg.MinZoom,
		MaxZoom:      cfg.MaxZoom,
		HopTolerance: cfg.HopTolerance,
		Undo:         journal,
		Prompter:     a.dialogs,
		Hover:        dispatch.NewDelay(cfg.Hover(), a.queue),
		Logger:       logger,
	})
	a.canvas.OnAffordance = a.affordance
	a.surface.Attach(a.canvas)
	a.dialogs.Backdrop = func() { a.painter.Paint(a.canvas.State(), geometry.NewFrame()) }
	a.layouter = layout.New(cfg.Layout, journal, logger)

	sniffer := logchan.NewSniffer(nil, "", "")
	a.ctrl, err = engine.NewController(ctx, engine.Options{
		Factory:   simengine.NewFactory(simengine.DefaultOptions()),
		Queue:     a.queue,
		Schedule:  schedule,
		Pool:      a.pool,
		Registry:  a.registry,
		Hub:       a.hub,
		Logs:      logchan.NewRegistry(0),
		Sniffer:   sniffer,
		Saver:     a.saver,
		Confirmer: a.dialogs,
		AutoSave:  cfg.AutoSave,
		Logger:    logger,
		OnChange:  a.refresh,
		OnError:   a.flash,
	})
	if err != nil {
		return nil, err
	}
	if err := a.watch(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func openRegistry(ctx context.Context, dbPath string) (store.Registry, error) {
	var reg store.Registry
	if dbPath == "" {
		reg = store.NewMemoryStore()
	} else {
		if file, ok := strings.CutPrefix(store.DSN(dbPath), "file:"); ok {
			if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
				return nil, err
			}
		}
		s, err := store.NewLibSQLStore(dbPath)
		if err != nil {
			return nil, err
		}
		reg = s
	}
	if err := reg.Migrate(ctx); err != nil {
		reg.Close()
		return nil, err
	}
	return reg, nil
}

// watch turns debug breaks and step errors on the hub into status-line
// messages on the interaction goroutine.
func (a *app) watch(ctx context.Context) error {
	events, cancel, err := a.hub.Subscribe(ctx, streaming.Filter{
		Types: []string{schema.EventDebugBreak, schema.EventStepError, schema.EventPreparationFailed},
	})
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for ev := range events {
			msg := strings.ReplaceAll(ev.Type, "_", " ")
			if ev.Step != "" {
				msg += ": " + ev.Step
			}
			a.queue.Post(func() {
				a.message = msg
				a.canvas.Redraw()
			})
		}
	}()
	return nil
}

func (a *app) run(ctx context.Context) error {
	go tui.Forward(ctx, a.screen, a.queue.Wake())
	go func() {
		<-ctx.Done()
		_ = a.screen.PostEvent(tcell.NewEventInterrupt(nil))
	}()

	a.canvas.Redraw()
	for {
		ev := a.screen.PollEvent()
		if ev == nil || ctx.Err() != nil {
			return nil
		}
		cmd, err := a.surface.Handle(a.canvas, ev)
		if err != nil {
			a.flash(err)
		}
		if a.dispatch(ctx, cmd) {
			return nil
		}
	}
}

// dispatch executes a host command and reports whether to quit.
func (a *app) dispatch(ctx context.Context, cmd tui.Command) bool {
	var err error
	switch cmd {
	case tui.CmdNone:
		return false
	case tui.CmdWake:
		a.queue.Drain()
		return false
	case tui.CmdQuit:
		return a.quit(ctx)
	case tui.CmdSave:
		err = a.save(ctx)
	case tui.CmdRun:
		a.message = ""
		err = a.ctrl.Start(ctx, a.doc.Diagram, a.doc.Run)
	case tui.CmdPause:
		if a.ctrl.State() == schema.SessionPaused {
			err = a.ctrl.Resume(ctx)
		} else {
			err = a.ctrl.Pause(ctx)
		}
	case tui.CmdStop:
		err = a.ctrl.Stop(ctx)
	case tui.CmdSafeStop:
		err = a.ctrl.SafeStop(ctx)
	case tui.CmdLayout:
		var res layout.Result
		if res, err = a.layouter.Run(a.doc.Diagram); err == nil {
			a.doc.Diagram.SetChanged()
			a.message = fmt.Sprintf("layout: %d steps moved in %d iterations", res.Moved, res.Iterations)
		}
	}
	if err != nil {
		a.flash(err)
	}
	a.canvas.Redraw()
	return false
}

func (a *app) save(ctx context.Context) error {
	if err := a.saver.Save(ctx, a.doc.Diagram); err != nil {
		return err
	}
	a.doc.Diagram.ClearChanged()
	a.message = "saved " + a.saver.Path
	return nil
}

func (a *app) quit(ctx context.Context) bool {
	if a.ctrl.State().Active() && !a.dialogs.Confirm("A run is active. Stop it and quit?") {
		return false
	}
	if a.doc.Diagram.Changed() && a.dialogs.Confirm("Save changes to "+a.saver.Path+"?") {
		if err := a.save(ctx); err != nil {
			a.flash(err)
			return false
		}
	}
	return true
}

// refresh mirrors the step statuses onto the canvas badges.
func (a *app) refresh() {
	badges := map[string]editor.StepBadge{}
	for _, s := range a.ctrl.StepStatuses() {
		b := badges[s.Step]
		b.Running = b.Running || s.Running
		b.Errors += s.Errors
		badges[s.Step] = b
	}
	a.canvas.SetBadges(badges)
}

// affordance handles clicks on step decorations: the error icon lists the
// step's sniffed errors, the menu icon shows its progress.
func (a *app) affordance(area geometry.AreaOwner) {
	s, ok := area.Parent.(*model.Step)
	if !ok {
		return
	}
	switch area.Kind {
	case geometry.AreaStepError:
		var lines []string
		for _, l := range strings.Split(a.ctrl.ErrorText(), "\n") {
			if strings.HasPrefix(l, s.Name+": ") {
				lines = append(lines, l)
			}
		}
		if len(lines) > 0 {
			a.dialogs.Choose("Errors in "+s.Name, lines)
		}
	case geometry.AreaStepMenu:
		var read, written, errs int64
		for _, st := range a.ctrl.StepStatuses() {
			if st.Step == s.Name {
				read += st.Read
				written += st.Written
				errs += st.Errors
			}
		}
		a.message = fmt.Sprintf("%s ×%d: read %d, written %d, errors %d", s.Name, s.Copies, read, written, errs)
	}
}

func (a *app) flash(err error) {
	a.logger.Debug("surfaced error", slog.String("error", err.Error()), slog.String("code", schema.CodeOf(err)))
	a.message = err.Error()
	a.canvas.Redraw()
}

func (a *app) status() string {
	d := a.doc.Diagram
	dirty := ""
	if d.Changed() {
		dirty = "*"
	}
	parts := []string{
		fmt.Sprintf("%s%s", d.Name, dirty),
		string(a.ctrl.State()),
		fmt.Sprintf("zoom %.0f%%", a.canvas.Viewport().Zoom()*100),
	}
	if a.message != "" {
		parts = append(parts, a.message)
	}
	return strings.Join(parts, "  │  ")
}

func (a *app) close() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
	a.pool.Shutdown()
	a.queue.Dispose()
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Warn("close registry", slog.String("error", err.Error()))
		}
	}
	if a.screen != nil {
		a.screen.Fini()
	}
}
