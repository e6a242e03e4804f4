// ABOUTME: Tests for event dispatch, sampling, snapshots and run lifecycle
// ABOUTME: Traces are built in memory and fed through a slice decoder

package engine

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/prateek/heapsnap/abstraction"
	"github.com/prateek/heapsnap/config"
	"github.com/prateek/heapsnap/graph"
	"github.com/prateek/heapsnap/program"
	"github.com/prateek/heapsnap/query"
	"github.com/prateek/heapsnap/trace"
)

type sliceDecoder struct {
	events []trace.Event
	err    error
}

func (d *sliceDecoder) Next() (trace.Event, error) {
	if len(d.events) == 0 {
		if d.err != nil {
			return trace.Event{}, d.err
		}
		return trace.Event{}, io.EOF
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, nil
}

func quietLogger() *log.Entry {
	l := log.New()
	l.Out = io.Discard
	return log.NewEntry(l)
}

func newEngine(t *testing.T, configure func(*config.Config), opts ...Option) *Engine {
	t.Helper()
	cfg := config.Default()
	if configure != nil {
		configure(&cfg)
	}
	e, err := New(cfg, append([]Option{WithLogger(quietLogger()), WithRunID("test-run")}, opts...)...)
	require.NoError(t, err)
	return e
}

func alloc(h, t, o int64) trace.Event {
	ev := trace.Blank(trace.New)
	ev.H, ev.T, ev.O = h, t, o
	return ev
}

func putfield(e, t, b, f, o int64) trace.Event {
	ev := trace.Blank(trace.PutfieldRef)
	ev.E, ev.T, ev.B, ev.F, ev.O = e, t, b, f, o
	return ev
}

func getfield(e, t, b, f, o int64) trace.Event {
	ev := trace.Blank(trace.GetfieldRef)
	ev.E, ev.T, ev.B, ev.F, ev.O = e, t, b, f, o
	return ev
}

func astore(e, t, b, i, o int64) trace.Event {
	ev := trace.Blank(trace.AstoreRef)
	ev.E, ev.T, ev.B, ev.I, ev.O = e, t, b, i, o
	return ev
}

func callBefore(t, i int64) trace.Event {
	ev := trace.Blank(trace.MethodCallBef)
	ev.T, ev.I = t, i
	return ev
}

func callAfter(t, i int64) trace.Event {
	ev := trace.Blank(trace.MethodCallAft)
	ev.T, ev.I = t, i
	return ev
}

func threadStart(t, o int64) trace.Event {
	ev := trace.Blank(trace.ThreadStart)
	ev.T, ev.O = t, o
	return ev
}

func handleAll(t *testing.T, e *Engine, events ...trace.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, e.Handle(ev), ev.String())
	}
}

func basicTrace() []trace.Event {
	return []trace.Event{alloc(1, 0, 5), putfield(1, 0, 5, 2, 7), alloc(2, 0, 7)}
}

func TestIdentityAbstraction(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.Abstraction = "none" })
	handleAll(t, e, basicTrace()...)

	assert.Equal(t, graph.ObjID(5), e.Strategy().Value(5))
	assert.Equal(t, graph.ObjID(7), e.Strategy().Value(7))
	assert.Equal(t, 1, e.Heap().NumEdges())
	assert.Equal(t, []graph.Edge{{Field: 2, Target: 7}}, e.Heap().Edges(5))
}

func TestAllocAbstraction(t *testing.T) {
	e := newEngine(t, nil)
	handleAll(t, e, basicTrace()...)

	assert.Equal(t, "1", e.Strategy().Value(5))
	assert.Equal(t, "2", e.Strategy().Value(7))
	assert.Equal(t, graph.SiteID(2), e.Heap().Site(7))
}

func TestAllocWithCallContext(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.KCFA = 2 })
	handleAll(t, e,
		callBefore(0, 3),
		callBefore(0, 11),
		callBefore(0, 9),
		alloc(4, 0, 5),
		callAfter(0, 9),
		alloc(4, 0, 6),
	)
	assert.Equal(t, "4_9_11", e.Strategy().Value(5))
	assert.Equal(t, "4_11_3", e.Strategy().Value(6))
}

func TestNegativeSiteIgnored(t *testing.T) {
	e := newEngine(t, nil)
	handleAll(t, e, alloc(-1, 0, 5))
	assert.False(t, e.Heap().HasNode(5))
}

func TestUnmatchedCallAfter(t *testing.T) {
	e := newEngine(t, nil)
	handleAll(t, e, callBefore(0, 3), callBefore(0, 4), callAfter(0, 9), alloc(1, 0, 5))

	assert.Equal(t, 0, e.Tracker().Stack(0).Len())
	assert.Equal(t, 1, e.Summary().TraceErrors)
	assert.True(t, e.Heap().HasNode(5), "processing continues")
}

func TestUnknownEventIsRecoverable(t *testing.T) {
	e := newEngine(t, nil)
	err := e.Handle(trace.Event{Kind: trace.Kind(200)})
	require.ErrorIs(t, err, ErrUnknownEvent)
	assert.True(t, recoverable(err))
	assert.Equal(t, 1, e.Summary().TraceErrors)
}

func TestUnknownAbstraction(t *testing.T) {
	cfg := config.Default()
	cfg.Abstraction = "bogus"
	_, err := New(cfg, WithLogger(quietLogger()))
	require.ErrorIs(t, err, ErrUnknownAbstraction)
}

func TestArrayStoreUsesSlotField(t *testing.T) {
	e := newEngine(t, nil)
	handleAll(t, e, alloc(1, 0, 5), alloc(2, 0, 6), astore(3, 0, 5, 4, 6))
	assert.Equal(t, []graph.Edge{{Field: graph.ArraySlot(4), Target: 6}}, e.Heap().Edges(5))
}

func TestSnapshotWithoutEscapingObjects(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.SnapshotFrac = 1 })
	handleAll(t, e, basicTrace()...)

	s := e.Summary()
	assert.Equal(t, 1, s.NumSnapshots)
	assert.Equal(t, 0, s.Precision.N, "empty proposed set records no precision")
	assert.Equal(t, 2, s.Complexity, "complexity is updated by the snapshot")
}

func TestSnapshotPrecision(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.SnapshotFrac = 1 })
	handleAll(t, e,
		alloc(1, 0, 5),
		alloc(1, 0, 8),
		alloc(2, 0, 7),
		threadStart(0, 5),
		putfield(1, 0, 5, 2, 7),
		getfield(2, 0, 5, 2, 7),
	)

	s := e.Summary()
	assert.Equal(t, 2, s.NumSnapshots)
	require.Equal(t, 2, s.Precision.N)
	assert.InDelta(t, 0.5, s.Precision.Min, 1e-9)
	assert.InDelta(t, 2.0/3.0, s.Precision.Max, 1e-9)

	assert.Equal(t, 2, s.Queries.Total)
	assert.Equal(t, 2, s.Queries.NumTrue)
	assert.Equal(t, 2, s.Queries.TotalHits)
	assert.Equal(t, int64(2), s.FieldAccesses)
}

func TestHitsFollowGraphChanges(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.Abstraction = "none" })
	handleAll(t, e,
		alloc(1, 0, 5),
		alloc(1, 0, 7),
		alloc(1, 0, 8),
		threadStart(0, 5),
		putfield(1, 0, 5, 2, 7),
		getfield(2, 0, 7, 0, 8),
		putfield(3, 0, 5, 2, 8),
		getfield(4, 0, 7, 0, 8),
	)

	holds := func(pt int64) string {
		r, ok := e.Queries().Lookup(query.ProgramPoint{E: pt})
		require.True(t, ok, "query %d", pt)
		return r.String()
	}
	assert.Equal(t, "1|0", holds(1))
	assert.Equal(t, "1|0", holds(2))
	assert.Equal(t, "1|0", holds(3))
	assert.Equal(t, "0|1", holds(4), "7 was cut off from the thread by the strong update")
}

func TestHitsDoNotRecomputeReachability(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.Abstraction = "reachability" })
	handleAll(t, e,
		alloc(1, 0, 5),
		alloc(2, 0, 7),
		threadStart(0, 5),
		putfield(1, 0, 5, 2, 7),
		getfield(2, 0, 5, 2, 7),
	)
	require.Equal(t, 2, e.Summary().Queries.TotalHits)

	s, ok := e.Strategy().(*abstraction.PathReach)
	require.True(t, ok)
	assert.Nil(t, s.Patterns(7), "hits read the last computed values")

	require.NoError(t, e.snapshot())
	assert.NotNil(t, s.Patterns(7))
}

func TestExcludedProgramPoints(t *testing.T) {
	names := &program.Table{Points: map[int64]program.Point{
		1: {Class: "java.lang.StringBuilder"},
		2: {Class: "org.example.Main"},
	}}
	e := newEngine(t, nil, WithResolver(names))
	handleAll(t, e, alloc(1, 0, 5), alloc(2, 0, 7), putfield(1, 0, 5, 2, 7), getfield(2, 0, 5, 2, 7))

	s := e.Summary()
	assert.Equal(t, 1, s.Queries.Total)
	assert.Equal(t, int64(1), s.FieldAccesses)
	assert.Equal(t, 1, e.Heap().NumEdges(), "excluded accesses still update the graph")

	all := newEngine(t, func(c *config.Config) { c.IncludeAllQueries = true }, WithResolver(names))
	handleAll(t, all, alloc(1, 0, 5), alloc(2, 0, 7), putfield(1, 0, 5, 2, 7), getfield(2, 0, 5, 2, 7))
	assert.Equal(t, 2, all.Summary().Queries.Total)
}

func TestNegativeProgramPointExcluded(t *testing.T) {
	e := newEngine(t, nil)
	handleAll(t, e, alloc(1, 0, 5), alloc(2, 0, 7), putfield(-1, 0, 5, 2, 7))
	assert.Equal(t, 0, e.Summary().Queries.Total)
	assert.Equal(t, 1, e.Heap().NumEdges())
}

func TestIgnoreBadObjects(t *testing.T) {
	e := newEngine(t, func(c *config.Config) { c.IgnoreBadObjects = true })
	handleAll(t, e, alloc(1, 0, 5), putfield(1, 0, 5, 2, 7))
	assert.Equal(t, 0, e.Heap().NumEdges(), "7 was never allocated")
	assert.Equal(t, 0, e.Summary().Queries.Total)

	handleAll(t, e, alloc(2, 0, 7), putfield(1, 0, 5, 2, 7))
	assert.Equal(t, 1, e.Heap().NumEdges())
	assert.Equal(t, 1, e.Summary().Queries.Total)
}

func randomTrace(seed int64, n int) []trace.Event {
	rng := rand.New(rand.NewSource(seed))
	var events []trace.Event
	next := int64(1)
	for i := 0; i < n; i++ {
		switch r := rng.Intn(10); {
		case r < 3 || next == 1:
			events = append(events, alloc(int64(rng.Intn(4)), 0, next))
			next++
		case r < 4:
			events = append(events, threadStart(0, 1+rng.Int63n(next-1)))
		case r < 5:
			events = append(events, callBefore(0, int64(rng.Intn(3))))
		case r < 6:
			events = append(events, callAfter(0, int64(rng.Intn(3))))
		default:
			b, o := 1+rng.Int63n(next-1), 1+rng.Int63n(next-1)
			events = append(events, putfield(int64(rng.Intn(5)), 0, b, int64(rng.Intn(3)), o))
		}
	}
	return events
}

func TestDeterministicRuns(t *testing.T) {
	configure := func(c *config.Config) {
		c.Abstraction = "alloc-reachability"
		c.QueryFrac = 0.6
		c.HitFrac = 0.5
		c.SnapshotFrac = 0.2
	}
	run := func() (Summary, string) {
		e := newEngine(t, configure)
		require.NoError(t, e.Run(context.Background(), &sliceDecoder{events: randomTrace(7, 400)}))
		var buf strings.Builder
		_, err := e.Queries().WriteTo(&buf)
		require.NoError(t, err)
		s := e.Summary()
		s.Started, s.Duration = time.Time{}, 0
		return s, buf.String()
	}

	s1, q1 := run()
	s2, q2 := run()
	assert.Equal(t, s1, s2)
	assert.Equal(t, q1, q2)
	assert.Positive(t, s1.NumSnapshots)
}

func TestRunStatus(t *testing.T) {
	e := newEngine(t, nil)
	assert.Equal(t, StatusNew, e.Status())
	require.NoError(t, e.Run(context.Background(), &sliceDecoder{events: basicTrace()}))
	assert.Equal(t, StatusDone, e.Status())
	assert.Equal(t, int64(3), e.Summary().Events)
}

func TestRunFailsOnDecodeError(t *testing.T) {
	boom := errors.New("boom")
	e := newEngine(t, nil)
	err := e.Run(context.Background(), &sliceDecoder{events: basicTrace(), err: boom})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, e.Status())
	assert.Equal(t, int64(3), e.Summary().Events, "events before the failure were processed")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newEngine(t, nil)
	err := e.Run(ctx, &sliceDecoder{events: basicTrace()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, e.Status())
	assert.Equal(t, int64(0), e.Summary().Events)
}

func TestRunWritesOutputs(t *testing.T) {
	root := t.TempDir()
	e := newEngine(t, func(c *config.Config) {
		c.OutputDir = root
		c.OutputGraph = true
		c.MaxFieldAccessesToPrint = 10
		c.SnapshotFrac = 1
	})
	events := append([]trace.Event{callBefore(0, 3), threadStart(0, 5)}, basicTrace()...)
	require.NoError(t, e.Run(context.Background(), &sliceDecoder{events: events}))

	dir := filepath.Join(root, "test-run")
	assert.Equal(t, dir, e.OutputDir())
	for _, name := range []string{
		"options.yaml", "output.yaml", "queries.out", "snapshot-abstractions",
		"metrics.prom", "graph.commands", "graph.dot", "fieldAccesses",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	queries, err := os.ReadFile(filepath.Join(dir, "queries.out"))
	require.NoError(t, err)
	assert.Equal(t, "e1 | 1 0\n", string(queries))

	values, err := os.ReadFile(filepath.Join(dir, "snapshot-abstractions"))
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", string(values))

	metrics, err := os.ReadFile(filepath.Join(dir, "metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `heapsnap_snapshots_total{abstraction="alloc"} 1`)

	accesses, err := os.ReadFile(filepath.Join(dir, "fieldAccesses"))
	require.NoError(t, err)
	assert.Equal(t, "M0 | i3\n1 | e1 | 0 | 5 1 | 7 -1\n", string(accesses))

	dot, err := os.ReadFile(filepath.Join(dir, "graph.dot"))
	require.NoError(t, err)
	assert.Contains(t, string(dot), `5 -> 7 [label="f2"];`)
}

func TestSnapshotSpansNestUnderRun(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	e := newEngine(t, func(c *config.Config) { c.SnapshotFrac = 1 }, WithTracerProvider(tp))
	require.NoError(t, e.Run(context.Background(), &sliceDecoder{events: basicTrace()}))

	var run sdktrace.ReadOnlySpan
	var snapshots []sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		switch s.Name() {
		case "run":
			run = s
		case "snapshot":
			snapshots = append(snapshots, s)
		}
	}
	require.NotNil(t, run)
	require.Len(t, snapshots, 1)
	assert.Equal(t, run.SpanContext().TraceID(), snapshots[0].SpanContext().TraceID())
	assert.Equal(t, run.SpanContext().SpanID(), snapshots[0].Parent().SpanID())
}

func TestCallEventsLoggedWithFieldEvents(t *testing.T) {
	calls := func(verbose int) int {
		logger, hook := logtest.NewNullLogger()
		e := newEngine(t, func(c *config.Config) { c.Verbose = verbose }, WithLogger(log.NewEntry(logger)))
		handleAll(t, e, callBefore(0, 3), callAfter(0, 3))

		n := 0
		for _, entry := range hook.AllEntries() {
			switch entry.Data["event"] {
			case trace.MethodCallBef.String(), trace.MethodCallAft.String():
				n++
			}
		}
		return n
	}
	assert.Equal(t, 0, calls(4))
	assert.Equal(t, 2, calls(5))
}
