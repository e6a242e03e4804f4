// ABOUTME: Sampled queries keyed by program point with one-time selection
// ABOUTME: Table owns the query and hit generators and all hit counters

// Package query holds the query and sampling engine: which queries are
// answered, how often they hold, and how precise snapshots are.
//
// Every random decision comes from a generator seeded by the caller, so two
// runs over the same events make the same decisions.
package query

import (
	"fmt"
	"io"
	"strconv"
)

// Query is a boolean property checked at some point of the analyzed program.
// Queries with equal keys are the same query.
type Query interface {
	Key() string
	String() string
}

// ProgramPoint is the canonical query: "does the property hold at access E".
type ProgramPoint struct {
	E int64

	// Name is the resolved description of E; empty renders the raw id
	Name string
}

func (p ProgramPoint) Key() string { return "e" + strconv.FormatInt(p.E, 10) }

func (p ProgramPoint) String() string {
	if p.Name != "" {
		return p.Name
	}
	if p.E < 0 {
		return "-"
	}
	return strconv.FormatInt(p.E, 10)
}

// Result accumulates the answers to one query.
type Result struct {
	// Selected is decided once, when the query is first seen
	Selected bool
	NumTrue  int
	NumFalse int
}

// IsTrue reports whether the query ever held.
func (r *Result) IsTrue() bool { return r.NumTrue > 0 }

// Hits is the number of recorded answers.
func (r *Result) Hits() int { return r.NumTrue + r.NumFalse }

func (r *Result) add(isTrue bool) {
	if isTrue {
		r.NumTrue++
	} else {
		r.NumFalse++
	}
}

func (r *Result) String() string {
	return strconv.Itoa(r.NumTrue) + "|" + strconv.Itoa(r.NumFalse)
}

// Table maps queries to results in first-encounter order.
type Table struct {
	selectQuery *Sampler
	selectHit   *Sampler

	results map[string]*Result
	order   []Query
	hits    int
}

// NewTable creates a table selecting each new query with probability
// queryFrac and answering each hit of a selected query with probability
// hitFrac.
func NewTable(queryFrac, hitFrac float64, querySeed, hitSeed int64) *Table {
	return &Table{
		selectQuery: NewSampler(queryFrac, querySeed),
		selectHit:   NewSampler(hitFrac, hitSeed),
		results:     make(map[string]*Result),
	}
}

// Result returns the result of q, creating it and drawing its selection on
// first encounter.
func (t *Table) Result(q Query) *Result {
	key := q.Key()
	if r, ok := t.results[key]; ok {
		return r
	}
	r := &Result{Selected: t.selectQuery.Draw()}
	t.results[key] = r
	t.order = append(t.order, q)
	return r
}

// Lookup returns the result of q without creating it.
func (t *Table) Lookup(q Query) (*Result, bool) {
	r, ok := t.results[q.Key()]
	return r, ok
}

// ShouldAnswerHit decides whether this hit of q gets answered. The hit draw
// comes first; only a passing draw looks up (and possibly creates) q.
func (t *Table) ShouldAnswerHit(q Query) bool {
	if !t.selectHit.Draw() {
		return false
	}
	return t.Result(q).Selected
}

// Answer records one observation for q.
func (t *Table) Answer(q Query, isTrue bool) *Result {
	r := t.Result(q)
	r.add(isTrue)
	t.hits++
	return r
}

// Len returns the number of distinct queries seen.
func (t *Table) Len() int { return len(t.order) }

// Queries returns the queries in first-encounter order.
func (t *Table) Queries() []Query {
	return append([]Query(nil), t.order...)
}

// Summary aggregates the table at the end of a run.
type Summary struct {
	Total     int     `yaml:"numTotal"`
	Selected  int     `yaml:"numSelected"`
	NumTrue   int     `yaml:"numTrue"`
	FracTrue  float64 `yaml:"fracTrue"`
	TotalHits int     `yaml:"totalNumHits"`

	// HitsPerQuery covers selected queries only
	HitsPerQuery Stat `yaml:"numHits"`
}

// Summary computes the aggregate figures. FracTrue is 0 when nothing was
// selected.
func (t *Table) Summary() Summary {
	s := Summary{Total: len(t.order), TotalHits: t.hits}
	for _, q := range t.order {
		r := t.results[q.Key()]
		if !r.Selected {
			continue
		}
		s.Selected++
		if r.IsTrue() {
			s.NumTrue++
		}
		s.HitsPerQuery.Add(float64(r.Hits()))
	}
	if s.Selected > 0 {
		s.FracTrue = float64(s.NumTrue) / float64(s.Selected)
	}
	return s
}

// WriteTo writes one line per query: "q | numTrue numFalse" for selected
// queries and "q | ?" for the rest.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, q := range t.order {
		r := t.results[q.Key()]
		var n int
		var err error
		if r.Selected {
			n, err = fmt.Fprintf(w, "%s | %d %d\n", q, r.NumTrue, r.NumFalse)
		} else {
			n, err = fmt.Fprintf(w, "%s | ?\n", q)
		}
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
