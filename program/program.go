// ABOUTME: Program-point resolver mapping trace ids to names and declaring classes
// ABOUTME: Table is built once from a YAML name file and passed to the engine

// Package program resolves the opaque ids in a trace (access points,
// allocation sites, fields, call sites, methods) to human-readable names.
// Nothing here is global: a Table is loaded once and handed to whoever
// needs it.
package program

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/prateek/heapsnap/graph"
)

// Resolver names program entities.
type Resolver interface {
	// DeclaringClass returns the class owning access point e, "" if unknown
	DeclaringClass(e int64) string
	PointName(e int64) string
	SiteName(h graph.SiteID) string
	FieldName(f graph.FieldID) string
	CallSiteName(i int64) string
	MethodName(m int64) string
}

// Point describes a field or array access.
type Point struct {
	Class string `yaml:"class" validate:"required"`
	Desc  string `yaml:"desc"`
}

// Table is a Resolver backed by maps. The zero value resolves everything to
// its fallback name.
type Table struct {
	Points    map[int64]Point          `yaml:"points" validate:"dive"`
	Sites     map[graph.SiteID]string  `yaml:"sites"`
	Fields    map[graph.FieldID]string `yaml:"fields"`
	CallSites map[int64]string         `yaml:"callSites"`
	Methods   map[int64]string         `yaml:"methods"`
}

// Parse reads a YAML name table.
func Parse(r io.Reader) (*Table, error) {
	var t Table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding name table: %w", err)
	}
	if err := validator.New().Struct(&t); err != nil {
		return nil, fmt.Errorf("invalid name table: %w", err)
	}
	return &t, nil
}

// Load reads the YAML name table at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func (t *Table) DeclaringClass(e int64) string {
	return t.Points[e].Class
}

func (t *Table) PointName(e int64) string {
	if e < 0 {
		return "-"
	}
	if p, ok := t.Points[e]; ok && p.Desc != "" {
		return p.Desc
	}
	return "e" + strconv.FormatInt(e, 10)
}

func (t *Table) SiteName(h graph.SiteID) string {
	if h < 0 {
		return "-"
	}
	return lookup(t.Sites, h, "h")
}

// FieldName renders array slots as "[i]".
func (t *Table) FieldName(f graph.FieldID) string {
	switch {
	case f.IsArraySlot():
		return "[" + strconv.FormatInt(f.Slot(), 10) + "]"
	case f < 0:
		return "-"
	}
	return lookup(t.Fields, f, "f")
}

func (t *Table) CallSiteName(i int64) string {
	if i < 0 {
		return "-"
	}
	return lookup(t.CallSites, i, "i")
}

func (t *Table) MethodName(m int64) string {
	if m < 0 {
		return "-"
	}
	return lookup(t.Methods, m, "m")
}

func lookup[K ~int64](names map[K]string, id K, prefix string) string {
	if s, ok := names[id]; ok {
		return s
	}
	return prefix + strconv.FormatInt(int64(id), 10)
}
