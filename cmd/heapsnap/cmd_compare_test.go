// ABOUTME: Tests for the compare command's concurrent evaluation
// ABOUTME: Engines for different abstractions must not affect each other

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapsnap/config"
	"github.com/prateek/heapsnap/engine"
	"github.com/prateek/heapsnap/program"
)

var fixture = filepath.Join("..", "..", "testdata", "escape.jsonl")

func TestCompareAll(t *testing.T) {
	engines, err := compareAll(context.Background(), config.Default(), &program.Table{}, fixture, []string{"none", "alloc", "recency"})
	require.NoError(t, err)
	require.Len(t, engines, 3)
	for i, name := range []string{"none", "alloc", "recency(alloc)"} {
		s := engines[i].Summary()
		assert.Equal(t, name, s.Abstraction)
		assert.Equal(t, engine.StatusDone, s.Status)
	}

	var out bytes.Buffer
	printComparison(&out, engines)
	assert.Contains(t, out.String(), "ABSTRACTION")
	assert.Contains(t, out.String(), "recency")
}

func TestCompareAllFailureLeavesOthersRunning(t *testing.T) {
	kinds := []string{"none", "bogus", "alloc", "alloc-reachability"}
	engines, err := compareAll(context.Background(), config.Default(), &program.Table{}, fixture, kinds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	require.Len(t, engines, 3)
	for _, e := range engines {
		assert.Equal(t, engine.StatusDone, e.Status(), e.Strategy().String())
	}
}
