// ABOUTME: Per-run output directory: options, outputs, queries, abstract values, metrics
// ABOUTME: Files are rewritten in place so a crashed run still leaves its last state

// Package report writes the results of an evaluation run into its own
// directory:
//
//	options.yaml           resolved configuration
//	output.yaml            aggregate figures, rewritten at every snapshot and at the end
//	queries.out            one line per query
//	snapshot-abstractions  distinct abstract values at the last computation
//	fieldAccesses          capped field-access log (optional)
//	graph.commands         graph mutation log (optional)
//	graph.dot              final graph annotated with ground truth (optional)
//	metrics.prom           Prometheus text exposition of the run's metrics
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/prateek/heapsnap/abstraction"
	"github.com/prateek/heapsnap/query"
)

// Dir is the output directory of one run.
type Dir struct {
	path string
}

// Create makes root/runID and returns it.
func Create(root, runID string) (*Dir, error) {
	path := filepath.Join(root, runID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the location of name inside the directory.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.path, name)
}

// Root returns the directory itself.
func (d *Dir) Root() string { return d.path }

// writeFile atomically replaces name with whatever fill writes.
func (d *Dir) writeFile(name string, fill func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(d.path, name+".*")
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(tmp)
	if err := fill(bw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.Path(name))
}

// WriteYAML writes v as YAML to name.
func (d *Dir) WriteYAML(name string, v any) error {
	return d.writeFile(name, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	})
}

// WriteQueries writes queries.out.
func (d *Dir) WriteQueries(t *query.Table) error {
	return d.writeFile("queries.out", func(w io.Writer) error {
		_, err := t.WriteTo(w)
		return err
	})
}

// WriteValues writes one abstract value per line to snapshot-abstractions.
func (d *Dir) WriteValues(values []abstraction.Value) error {
	return d.writeFile("snapshot-abstractions", func(w io.Writer) error {
		for _, v := range values {
			if _, err := fmt.Fprintln(w, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteMetrics writes metrics.prom from g.
func (d *Dir) WriteMetrics(g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(d.Path("metrics.prom"), g)
}
