// ABOUTME: Graph monitor logging heap mutations and exporting an annotated DOT graph
// ABOUTME: Node colors show agreement between actual and proposed ground truth

package report

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/prateek/heapsnap/graph"
	"github.com/prateek/heapsnap/query"
)

// GraphMonitor mirrors graph mutations into graph.commands, up to
// maxCommands lines, and remembers the latest node annotations for the DOT
// export.
type GraphMonitor struct {
	dir         *Dir
	f           *os.File
	w           *bufio.Writer
	maxCommands int
	n           int

	labels map[graph.ObjID]string
	colors map[graph.ObjID]query.Color
}

// OpenGraph creates the graph.commands file of d.
func (d *Dir) OpenGraph(maxCommands int) (*GraphMonitor, error) {
	f, err := os.Create(d.Path("graph.commands"))
	if err != nil {
		return nil, err
	}
	return &GraphMonitor{
		dir:         d,
		f:           f,
		w:           bufio.NewWriter(f),
		maxCommands: maxCommands,
		labels:      make(map[graph.ObjID]string),
		colors:      make(map[graph.ObjID]query.Color),
	}, nil
}

func (m *GraphMonitor) command(format string, args ...any) {
	if m.n >= m.maxCommands {
		return
	}
	m.n++
	fmt.Fprintf(m.w, format+"\n", args...)
}

func (m *GraphMonitor) AddNode(o graph.ObjID) { m.command("addNode %s", o) }

func (m *GraphMonitor) AddEdge(b, o graph.ObjID, label string) {
	m.command("addEdge %s %s %s", b, o, label)
}

func (m *GraphMonitor) DeleteEdge(b, o graph.ObjID, label string) {
	m.command("deleteEdge %s %s %s", b, o, label)
}

// Annotate records the label and color of o.
func (m *GraphMonitor) Annotate(o graph.ObjID, label string, c query.Color) {
	m.labels[o] = label
	m.colors[o] = c
	m.command("setNode %s %q %s", o, label, c)
}

// Close writes graph.dot for h and closes the command log.
func (m *GraphMonitor) Close(h graph.View, fieldName func(graph.FieldID) string) error {
	err := m.dir.writeFile("graph.dot", func(w io.Writer) error {
		return WriteDOT(w, h, m.labels, m.colors, fieldName)
	})
	if ferr := m.w.Flush(); err == nil {
		err = ferr
	}
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteDOT renders h in Graphviz syntax. Unannotated nodes are white and
// labeled with their id.
func WriteDOT(w io.Writer, h graph.View, labels map[graph.ObjID]string, colors map[graph.ObjID]query.Color, fieldName func(graph.FieldID) string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph heap {")
	fmt.Fprintln(bw, "  node [style=filled];")
	h.ForEachNode(func(n *graph.Node) {
		label, ok := labels[n.ID]
		if !ok {
			label = n.ID.String()
		}
		color, ok := colors[n.ID]
		if !ok {
			color = query.White
		}
		fmt.Fprintf(bw, "  %d [label=%q, fillcolor=%q];\n", n.ID, label, string(color))
	})
	h.ForEachNode(func(n *graph.Node) {
		for _, e := range n.Edges {
			fmt.Fprintf(bw, "  %d -> %d [label=%q];\n", n.ID, e.Target, fieldName(e.Field))
		}
	})
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
