// ABOUTME: compare command: independent engines per abstraction, run concurrently
// ABOUTME: Each engine decodes its own copy of the trace and shares nothing

package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/prateek/heapsnap/abstraction"
	"github.com/prateek/heapsnap/config"
	"github.com/prateek/heapsnap/engine"
	"github.com/prateek/heapsnap/program"
)

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	resolver, err := loadResolver(cfg)
	if err != nil {
		return err
	}
	kinds := flagAbstractions
	if len(kinds) == 0 {
		kinds = abstraction.Kinds
	}

	done, runErr := compareAll(cmd.Context(), cfg, resolver, args[0], kinds)
	if err := recordHistory(cfg, args[0], done...); err != nil {
		log.WithError(err).Warn("run history not updated")
	}
	printComparison(cmd.OutOrStdout(), done)
	return runErr
}

// compareAll evaluates the trace at path once per abstraction kind. A failing
// engine does not stop the others. The engines that were built are returned
// in kind order with the first error.
func compareAll(ctx context.Context, cfg config.Config, resolver program.Resolver, path string, kinds []string) ([]*engine.Engine, error) {
	engines := make([]*engine.Engine, len(kinds))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			c := cfg
			c.Abstraction = kind
			e, err := evaluate(ctx, c, resolver, path)
			engines[i] = e
			if err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
			return nil
		})
	}
	err := g.Wait()

	var done []*engine.Engine
	for _, e := range engines {
		if e != nil {
			done = append(done, e)
		}
	}
	return done, err
}

func printComparison(w io.Writer, engines []*engine.Engine) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ABSTRACTION\tSTATUS\tCOMPLEXITY\tPRECISION\tSNAPSHOTS\tFRAC TRUE")
	for _, e := range engines {
		s := e.Summary()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%d\t%.3f\n",
			s.Abstraction, s.Status, s.Complexity, s.Precision.Mean(), s.Precision.N, s.Queries.FracTrue)
	}
	tw.Flush()
}
