// ABOUTME: run command: one engine over one trace, recorded in the run history
// ABOUTME: Also holds the trace opening and history helpers shared by other commands

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/prateek/heapsnap/config"
	"github.com/prateek/heapsnap/engine"
	"github.com/prateek/heapsnap/program"
	"github.com/prateek/heapsnap/store"
	"github.com/prateek/heapsnap/trace"
)

func runEvaluation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	resolver, err := loadResolver(cfg)
	if err != nil {
		return err
	}
	e, err := evaluate(cmd.Context(), cfg, resolver, args[0])
	if e != nil {
		if herr := recordHistory(cfg, args[0], e); herr != nil {
			log.WithError(herr).Warn("run history not updated")
		}
		printSummary(cmd.OutOrStdout(), e.Summary())
	}
	return err
}

// evaluate runs one engine over path. The engine is returned whenever it
// was built, even if the run failed, so partial results can be reported.
func evaluate(ctx context.Context, cfg config.Config, resolver program.Resolver, path string) (*engine.Engine, error) {
	logger := log.WithField("trace", filepath.Base(path))
	e, err := engine.New(cfg, engine.WithLogger(logger), engine.WithResolver(resolver))
	if err != nil {
		return nil, err
	}
	dec, closer, err := openTrace(path, cfg.TraceFormat, e.DecoderOptions())
	if err != nil {
		// Run the engine on the failure so it is reported like any other.
		return e, e.Run(ctx, failedDecoder{err})
	}
	defer closer.Close()
	return e, e.Run(ctx, dec)
}

type failedDecoder struct{ err error }

func (d failedDecoder) Next() (trace.Event, error) { return trace.Event{}, d.err }

// openTrace opens path ("-" for standard input) with the named format, or
// detects the format when name is empty.
func openTrace(path, name string, opts trace.Options) (trace.Decoder, io.Closer, error) {
	var f *os.File
	if path == "-" {
		f = os.Stdin
	} else {
		var err error
		if f, err = os.Open(path); err != nil {
			return nil, nil, err
		}
	}
	var dec trace.Decoder
	var err error
	if name == "" {
		dec, err = trace.Open(f, opts)
	} else {
		var format trace.Format
		if format, err = trace.Lookup(name); err == nil {
			dec, err = format.NewDecoder(bufio.NewReader(f), opts)
		}
	}
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return dec, f, nil
}

func recordFor(tracePath string, e *engine.Engine) store.Record {
	s := e.Summary()
	return store.Record{
		ID:           s.RunID,
		Trace:        tracePath,
		Abstraction:  s.Abstraction,
		Property:     s.Property,
		Status:       string(s.Status),
		Started:      s.Started,
		Duration:     s.Duration,
		Events:       s.Events,
		Complexity:   s.Complexity,
		AvgPrecision: s.Precision.Mean(),
		NumSnapshots: s.NumSnapshots,
		FracTrue:     s.Queries.FracTrue,
		FinalObjects: s.FinalObjects,
		TraceErrors:  s.TraceErrors,
		OutputDir:    e.OutputDir(),
	}
}

func openHistory(dir string) (*store.Store, error) {
	return store.Open(dir, log.WithField("component", "history"))
}

func recordHistory(cfg config.Config, tracePath string, engines ...*engine.Engine) error {
	if cfg.HistoryDir == "" {
		return nil
	}
	st, err := openHistory(cfg.HistoryDir)
	if err != nil {
		return err
	}
	defer st.Close()
	for _, e := range engines {
		if err := st.Put(recordFor(tracePath, e)); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(w io.Writer, s engine.Summary) {
	fmt.Fprintf(w, "run:          %s (%s)\n", s.RunID, s.Status)
	fmt.Fprintf(w, "abstraction:  %s\n", s.Abstraction)
	fmt.Fprintf(w, "events:       %d\n", s.Events)
	fmt.Fprintf(w, "objects:      %d\n", s.FinalObjects)
	fmt.Fprintf(w, "complexity:   %d\n", s.Complexity)
	fmt.Fprintf(w, "queries:      %d selected of %d, %d true (%.3f)\n",
		s.Queries.Selected, s.Queries.Total, s.Queries.NumTrue, s.Queries.FracTrue)
	fmt.Fprintf(w, "hits/query:   %s\n", s.Queries.HitsPerQuery)
	fmt.Fprintf(w, "precision:    %s over %d snapshots\n", s.Precision, s.NumSnapshots)
	if s.TraceErrors > 0 {
		fmt.Fprintf(w, "trace errors: %d\n", s.TraceErrors)
	}
}
