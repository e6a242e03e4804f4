// ABOUTME: Per-thread call-site stacks used for context-sensitive abstraction keys
// ABOUTME: Validates pairing of method-call-before and method-call-after events

// Package callctx tracks, for every thread of the analyzed program, the stack
// of call sites currently active. The stacks are only ever touched by the
// goroutine consuming the event stream.
package callctx

import (
	"errors"
	"fmt"

	"github.com/prateek/heapsnap/graph"
)

// CallSite identifies a call instruction.
type CallSite int64

// ErrUnmatchedCall is returned when a call-after event finds no matching
// call-before on its thread's stack. The stack is left empty.
var ErrUnmatchedCall = errors.New("unmatched method-call-after")

// Stack is the call-site stack of one thread, innermost call last.
type Stack struct {
	sites []CallSite
}

// Push records entry into call site i.
func (s *Stack) Push(i CallSite) {
	s.sites = append(s.sites, i)
}

// Pop removes entries from the top until one equal to i has been removed.
// Events can be lost, so several entries may go at once. If i is not on the
// stack the stack ends up empty and ErrUnmatchedCall is returned.
func (s *Stack) Pop(i CallSite) error {
	for len(s.sites) > 0 {
		top := s.sites[len(s.sites)-1]
		s.sites = s.sites[:len(s.sites)-1]
		if top == i {
			return nil
		}
	}
	return fmt.Errorf("%w: call site %d", ErrUnmatchedCall, i)
}

// Len returns the stack depth.
func (s *Stack) Len() int {
	if s == nil {
		return 0
	}
	return len(s.sites)
}

// Innermost returns up to k call sites, innermost first.
func (s *Stack) Innermost(k int) []CallSite {
	if s == nil || k <= 0 {
		return nil
	}
	if k > len(s.sites) {
		k = len(s.sites)
	}
	out := make([]CallSite, k)
	for j := 0; j < k; j++ {
		out[j] = s.sites[len(s.sites)-1-j]
	}
	return out
}

// Sites returns a copy of the stack, outermost first.
func (s *Stack) Sites() []CallSite {
	if s == nil {
		return nil
	}
	out := make([]CallSite, len(s.sites))
	copy(out, s.sites)
	return out
}

// Tracker owns the stacks of all threads.
type Tracker struct {
	stacks map[graph.ThreadID]*Stack
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{stacks: make(map[graph.ThreadID]*Stack)}
}

// Stack returns the stack for t, creating it on first use. NoThread has no
// stack and yields nil.
func (tr *Tracker) Stack(t graph.ThreadID) *Stack {
	if t == graph.NoThread {
		return nil
	}
	s, ok := tr.stacks[t]
	if !ok {
		s = &Stack{}
		tr.stacks[t] = s
	}
	return s
}

// Before handles a method-call-before event.
func (tr *Tracker) Before(t graph.ThreadID, i CallSite) {
	if s := tr.Stack(t); s != nil {
		s.Push(i)
	}
}

// After handles a method-call-after event.
func (tr *Tracker) After(t graph.ThreadID, i CallSite) error {
	s := tr.Stack(t)
	if s == nil {
		return fmt.Errorf("%w: call site %d on %s", ErrUnmatchedCall, i, t)
	}
	return s.Pop(i)
}

// NumThreads returns the number of threads seen so far.
func (tr *Tracker) NumThreads() int {
	return len(tr.stacks)
}
