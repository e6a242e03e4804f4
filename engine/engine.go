// ABOUTME: Event stream processor driving the heap graph, abstraction and queries
// ABOUTME: One engine consumes one trace on a single goroutine

// Package engine consumes a trace of heap events, maintains the concrete
// heap graph, keeps an abstraction of it up to date and samples queries and
// snapshots to measure the abstraction's precision and complexity.
//
// # Thread Safety
//
// An Engine is not safe for concurrent use. Events describe the threads of
// the analyzed program, not the engine's own; Handle must be called from
// one goroutine in trace order. Independent engines share nothing and may
// run side by side.
//
// # Lifecycle
//
//  1. New validates the configuration and builds every component
//  2. Run consumes a decoder to the end (or Handle is called per event)
//  3. Finish computes the Summary and flushes the run directory
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/prateek/heapsnap/abstraction"
	"github.com/prateek/heapsnap/callctx"
	"github.com/prateek/heapsnap/config"
	"github.com/prateek/heapsnap/graph"
	"github.com/prateek/heapsnap/program"
	"github.com/prateek/heapsnap/property"
	"github.com/prateek/heapsnap/query"
	"github.com/prateek/heapsnap/report"
)

const tracerName = "github.com/prateek/heapsnap/engine"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusNew     Status = "new"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the base log entry.
func WithLogger(l *log.Entry) Option {
	return func(e *Engine) { e.log = l }
}

// WithResolver sets the program name table.
func WithResolver(r program.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithTracerProvider sets where spans go. The global provider is used
// otherwise.
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithProgressInterval sets the minimum time between progress log lines.
func WithProgressInterval(d time.Duration) Option {
	return func(e *Engine) { e.progress = &rate.Sometimes{Interval: d} }
}

// Engine processes one trace.
type Engine struct {
	cfg      config.Config
	ctx      context.Context // parent of snapshot spans; the run's while Run is active
	log      *log.Entry
	runID    string
	tracer   oteltrace.Tracer
	progress *rate.Sometimes
	metrics  *metrics

	heap     *graph.Heap
	tracker  *callctx.Tracker
	strategy abstraction.Strategy
	forward  graph.Listener
	property property.Property
	resolver program.Resolver
	creating graph.ObjID

	queries   *query.Table
	snapshots *query.Sampler
	precision query.Stat

	out      *report.Dir
	fieldLog *report.FieldLog
	graphOut *report.GraphMonitor

	excluded map[int64]bool

	status        Status
	started       time.Time
	finished      time.Time
	events        int64
	fieldAccesses int64
	numSnapshots  int
	numCommands   int
	traceErrors   int
	complexity    int
}

// New builds an engine for cfg. Configuration errors, including an unknown
// abstraction, are reported here, before any event is processed.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	strategy, err := abstraction.Parse(cfg.Abstraction, cfg.Params())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAbstraction, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prop, err := property.Parse(cfg.Property)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		ctx:       context.Background(),
		tracer:    otel.Tracer(tracerName),
		progress:  &rate.Sometimes{Interval: 5 * time.Second},
		tracker:   callctx.NewTracker(),
		strategy:  strategy,
		property:  prop,
		resolver:  &program.Table{},
		queries:   query.NewTable(cfg.QueryFrac, cfg.HitFrac, cfg.QuerySeed, cfg.HitSeed),
		snapshots: query.NewSampler(cfg.SnapshotFrac, cfg.SnapshotSeed),
		excluded:  make(map[int64]bool),
		creating:  graph.NoObject,
		status:    StatusNew,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	if e.log == nil {
		e.log = log.NewEntry(log.StandardLogger())
	}
	e.log = e.log.WithFields(log.Fields{"abstraction": strategy.String(), "run": shortID(e.runID)})
	e.metrics = newMetrics(strategy.String())

	e.forward = abstraction.Forward(strategy, e.tracker)
	e.heap = graph.New(cfg.UseStrongUpdates, e)
	strategy.Init(abstraction.Env{Heap: e.heap, OnChange: e.valueChanged})

	if cfg.OutputDir != "" {
		if err := e.openOutputs(); err != nil {
			e.closeOutputs()
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) openOutputs() error {
	var err error
	if e.out, err = report.Create(e.cfg.OutputDir, e.runID); err != nil {
		return err
	}
	if e.cfg.MaxFieldAccessesToPrint > 0 {
		if e.fieldLog, err = e.out.OpenFieldLog(e.cfg.MaxFieldAccessesToPrint); err != nil {
			return err
		}
	}
	if e.cfg.OutputGraph {
		if e.graphOut, err = e.out.OpenGraph(e.cfg.MaxCommands); err != nil {
			return err
		}
	}
	return e.out.WriteYAML("options.yaml", e.cfg)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunID identifies this run.
func (e *Engine) RunID() string { return e.runID }

// Status returns the lifecycle state.
func (e *Engine) Status() Status { return e.status }

// Heap exposes the concrete graph.
func (e *Engine) Heap() *graph.Heap { return e.heap }

// Strategy exposes the active abstraction.
func (e *Engine) Strategy() abstraction.Strategy { return e.strategy }

// Tracker exposes the per-thread call-site stacks.
func (e *Engine) Tracker() *callctx.Tracker { return e.tracker }

// Queries exposes the query table.
func (e *Engine) Queries() *query.Table { return e.queries }

// OutputDir returns the run directory, "" when outputs are disabled.
func (e *Engine) OutputDir() string {
	if e.out == nil {
		return ""
	}
	return e.out.Root()
}

// importantLog reports whether a graph mutation should be logged, charging
// it against MaxCommands.
func (e *Engine) importantLog() bool {
	if e.cfg.Verbose < 1 || e.numCommands >= e.cfg.MaxCommands {
		return false
	}
	e.numCommands++
	return true
}

// ignore reports whether o is a bad object to skip: unknown to the graph or
// not an object at all. Only active with IgnoreBadObjects.
func (e *Engine) ignore(o int64) bool {
	return e.cfg.IgnoreBadObjects && (o < 0 || !e.heap.HasNode(graph.ObjID(o)))
}

// isExcluded reports whether accesses at e are outside the query scope.
func (e *Engine) isExcluded(pt int64) bool {
	if e.cfg.IncludeAllQueries {
		return false
	}
	if pt < 0 {
		return true
	}
	if v, ok := e.excluded[pt]; ok {
		return v
	}
	class := e.resolver.DeclaringClass(pt)
	v := false
	for _, prefix := range e.cfg.ExcludedPrefixes {
		if class != "" && strings.HasPrefix(class, prefix) {
			v = true
			break
		}
	}
	e.excluded[pt] = v
	return v
}
