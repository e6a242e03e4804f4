// ABOUTME: Tests for the run directory writers, field log and graph export
// ABOUTME: Reads the produced files back and checks their content

package report

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/prateek/heapsnap/abstraction"
	"github.com/prateek/heapsnap/graph"
	"github.com/prateek/heapsnap/query"
)

func newDir(t *testing.T) *Dir {
	t.Helper()
	d, err := Create(t.TempDir(), "run-1")
	require.NoError(t, err)
	return d
}

func read(t *testing.T, d *Dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(d.Path(name))
	require.NoError(t, err)
	return string(data)
}

func TestWriteYAML(t *testing.T) {
	d := newDir(t)
	require.NoError(t, d.WriteYAML("output.yaml", map[string]any{"complexity": 3, "exec.status": "done"}))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(read(t, d, "output.yaml")), &got))
	assert.Equal(t, 3, got["complexity"])
	assert.Equal(t, "done", got["exec.status"])

	entries, err := os.ReadDir(d.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestWriteQueriesAndValues(t *testing.T) {
	d := newDir(t)
	tab := query.NewTable(1, 1, 0, 0)
	tab.Answer(query.ProgramPoint{E: 3}, true)
	require.NoError(t, d.WriteQueries(tab))
	assert.Equal(t, "3 | 1 0\n", read(t, d, "queries.out"))

	require.NoError(t, d.WriteValues([]abstraction.Value{"1", "2_9"}))
	assert.Equal(t, "1\n2_9\n", read(t, d, "snapshot-abstractions"))
}

func TestWriteMetrics(t *testing.T) {
	d := newDir(t)
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "heapsnap_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(2)

	require.NoError(t, d.WriteMetrics(reg))
	assert.Contains(t, read(t, d, "metrics.prom"), "heapsnap_test_total 2")
}

func TestFieldLogCaps(t *testing.T) {
	d := newDir(t)
	l, err := d.OpenFieldLog(2)
	require.NoError(t, err)
	for n := int64(1); n <= 3; n++ {
		require.NoError(t, l.Access(n, 7, "e7", 0, 5, "1", -1, "(null)"))
	}
	require.NoError(t, l.Access(4, 8, "e8", 1, 5, "1", 6, "2"))
	require.NoError(t, l.Call(4, 9, "i9"))
	require.NoError(t, l.Close())

	want := "1 | e7 | 0 | 5 1 | -1 (null)\n" +
		"2 | e7 | 0 | 5 1 | -1 (null)\n" +
		"4 | e8 | 1 | 5 1 | 6 2\n" +
		"M4 | i9\n"
	assert.Equal(t, want, read(t, d, "fieldAccesses"))
}

func TestGraphMonitor(t *testing.T) {
	d := newDir(t)
	m, err := d.OpenGraph(3)
	require.NoError(t, err)

	h := graph.New(true, nil)
	h.Allocate(0, 1, 1)
	h.Allocate(0, 2, 1)
	h.SetEdge(0, 1, graph.ArraySlot(0), 2)

	m.AddNode(1)
	m.AddNode(2)
	m.AddEdge(1, 2, "[0]")
	m.DeleteEdge(1, 2, "[0]") // over the cap
	m.Annotate(1, "H1", query.Green)

	require.NoError(t, m.Close(h, func(f graph.FieldID) string { return "[0]" }))
	cmds := strings.Split(strings.TrimSpace(read(t, d, "graph.commands")), "\n")
	assert.Equal(t, []string{"addNode O1", "addNode O2", "addEdge O1 O2 [0]"}, cmds)

	dot := read(t, d, "graph.dot")
	assert.Contains(t, dot, `1 [label="H1", fillcolor="#00ff00"];`)
	assert.Contains(t, dot, `2 [label="O2", fillcolor="#ffffff"];`)
	assert.Contains(t, dot, `1 -> 2 [label="[0]"];`)
}

func TestWriteDOTEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, graph.New(true, nil), nil, nil, nil))
	assert.Equal(t, "digraph heap {\n  node [style=filled];\n}\n", buf.String())
}
