// ABOUTME: Tests for per-thread call-site stacks
// ABOUTME: Covers pairing, lost events and context extraction

package callctx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopMatching(t *testing.T) {
	s := &Stack{}
	s.Push(3)
	s.Push(4)
	require.NoError(t, s.Pop(4))
	assert.Equal(t, []CallSite{3}, s.Sites())
}

func TestPopSkipsLostEvents(t *testing.T) {
	s := &Stack{}
	s.Push(1)
	s.Push(2)
	s.Push(3)
	require.NoError(t, s.Pop(1))
	assert.Equal(t, 0, s.Len())
}

func TestPopUnmatchedClearsStack(t *testing.T) {
	s := &Stack{}
	s.Push(3)
	s.Push(4)
	err := s.Pop(9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnmatchedCall))
	assert.Equal(t, 0, s.Len())
}

func TestInnermost(t *testing.T) {
	s := &Stack{}
	for _, i := range []CallSite{10, 20, 30} {
		s.Push(i)
	}
	tests := []struct {
		k    int
		want []CallSite
	}{
		{0, nil},
		{1, []CallSite{30}},
		{2, []CallSite{30, 20}},
		{5, []CallSite{30, 20, 10}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Innermost(tt.k), "k=%d", tt.k)
	}

	var empty *Stack
	assert.Nil(t, empty.Innermost(2))
}

func TestTrackerPartitionsByThread(t *testing.T) {
	tr := NewTracker()
	tr.Before(1, 5)
	tr.Before(2, 6)

	assert.Equal(t, []CallSite{5}, tr.Stack(1).Sites())
	assert.Equal(t, []CallSite{6}, tr.Stack(2).Sites())
	assert.Equal(t, 2, tr.NumThreads())

	require.NoError(t, tr.After(1, 5))
	assert.Equal(t, 0, tr.Stack(1).Len())
	assert.Equal(t, 1, tr.Stack(2).Len())
}

func TestTrackerNoThread(t *testing.T) {
	tr := NewTracker()
	tr.Before(-1, 5)
	assert.Nil(t, tr.Stack(-1))
	assert.ErrorIs(t, tr.After(-1, 5), ErrUnmatchedCall)
}
