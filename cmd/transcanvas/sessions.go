package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rendis/transcanvas/internal/config"
	"github.com/rendis/transcanvas/internal/store"
	"github.com/rendis/transcanvas/pkg/schema"
)

// runSessions prints the most recent sessions recorded in the registry.
func runSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	diagram := fs.String("diagram", "", "only sessions of this diagram")
	state := fs.String("state", "", "only sessions in this state")
	limit := fs.Int("limit", 20, "maximum number of sessions")
	events := fs.String("events", "", "print the lifecycle events of this session instead")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(config.SettingsPath(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.DBPath == "" {
		fmt.Fprintln(os.Stderr, "Error: no db_path configured; sessions are only kept in memory")
		os.Exit(1)
	}
	reg, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	ctx := context.Background()
	if err := reg.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if *events != "" {
		evs, err := reg.GetEvents(ctx, *events, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(w, "SEQ\tTIME\tEVENT\tSTEP\tPAYLOAD")
		for _, e := range evs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Sequence, e.Timestamp.Format(time.TimeOnly), e.Type, e.Step, e.Payload)
		}
		return
	}

	list, err := reg.ListSessions(ctx, store.SessionFilter{
		Diagram: *diagram,
		State:   schema.SessionState(*state),
		Limit:   *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(w, "ID\tDIAGRAM\tSTATE\tSTARTED\tDURATION\tERROR")
	for _, s := range list {
		dur := "-"
		if s.EndedAt != nil {
			dur = s.EndedAt.Sub(s.CreatedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Diagram, s.State,
			s.CreatedAt.Local().Format(time.DateTime), dur, firstLine(s.Error))
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " …"
		}
	}
	return s
}
