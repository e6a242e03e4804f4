// ABOUTME: Trace event model: kinds, per-kind field layouts and the Decoder contract
// ABOUTME: Kind values match the byte codes emitted by the instrumentation

// Package trace reads and writes streams of runtime heap events.
//
// A trace is a totally ordered sequence of events produced by an
// instrumented program. Two encodings are supported: a compact binary format
// for real runs and JSON lines for hand-written traces and debugging.
// Open picks the decoder by sniffing the first bytes.
package trace

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownKind is returned for an event kind outside the known range
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrTooManyErrors is returned when a decoder exhausts its error budget
	ErrTooManyErrors = errors.New("too many trace errors")
)

// Kind identifies an event.
type Kind uint8

const (
	EnterMethod Kind = iota
	LeaveMethod
	EnterLoop
	LeaveLoop
	BefNew
	AftNew
	New
	NewArray
	GetstaticPrim
	GetstaticRef
	PutstaticPrim
	PutstaticRef
	GetfieldPrim
	GetfieldRef
	PutfieldPrim
	PutfieldRef
	AloadPrim
	AloadRef
	AstorePrim
	AstoreRef
	MethodCallBef
	MethodCallAft
	ReturnPrim
	ReturnRef
	ExplicitThrow
	ImplicitThrow
	Quad
	BasicBlock
	ThreadStart
	ThreadJoin
	AcquireLock
	ReleaseLock
	Wait
	Notify
	NotifyAll
	Finalize

	numKinds
)

var kindNames = [numKinds]string{
	"enter-method", "leave-method", "enter-loop", "leave-loop",
	"bef-new", "aft-new", "new", "new-array",
	"getstatic-prim", "getstatic-ref", "putstatic-prim", "putstatic-ref",
	"getfield-prim", "getfield-ref", "putfield-prim", "putfield-ref",
	"aload-prim", "aload-ref", "astore-prim", "astore-ref",
	"call-before", "call-after", "return-prim", "return-ref",
	"explicit-throw", "implicit-throw", "quad", "basic-block",
	"thread-start", "thread-join", "acquire-lock", "release-lock",
	"wait", "notify", "notify-all", "finalize",
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k < numKinds }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText encodes a kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind by name.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Event is one trace record. Fields a kind does not carry are -1.
type Event struct {
	Kind Kind

	E int64 // program point of a field or array access
	H int64 // allocation site
	T int64 // thread
	B int64 // base object
	F int64 // field
	I int64 // array index, call site, or lock/throw point
	O int64 // object
	M int64 // method
}

// Field names one of the Event slots.
type Field uint8

const (
	FieldE Field = iota
	FieldH
	FieldT
	FieldB
	FieldF
	FieldI
	FieldO
	FieldM
)

var (
	accessPrim = []Field{FieldE, FieldT, FieldB, FieldF}
	accessRef  = []Field{FieldE, FieldT, FieldB, FieldF, FieldO}
	arrayPrim  = []Field{FieldE, FieldT, FieldB, FieldI}
	arrayRef   = []Field{FieldE, FieldT, FieldB, FieldI, FieldO}
	pointObj   = []Field{FieldI, FieldT, FieldO}
	pointOnly  = []Field{FieldI, FieldT}
	alloc      = []Field{FieldH, FieldT, FieldO}
	method     = []Field{FieldM, FieldT}
)

var layouts = [numKinds][]Field{
	EnterMethod:   method,
	LeaveMethod:   method,
	EnterLoop:     pointOnly,
	LeaveLoop:     pointOnly,
	BefNew:        alloc,
	AftNew:        alloc,
	New:           alloc,
	NewArray:      alloc,
	GetstaticPrim: accessPrim,
	GetstaticRef:  accessRef,
	PutstaticPrim: accessPrim,
	PutstaticRef:  accessRef,
	GetfieldPrim:  accessPrim,
	GetfieldRef:   accessRef,
	PutfieldPrim:  accessPrim,
	PutfieldRef:   accessRef,
	AloadPrim:     arrayPrim,
	AloadRef:      arrayRef,
	AstorePrim:    arrayPrim,
	AstoreRef:     arrayRef,
	MethodCallBef: pointObj,
	MethodCallAft: pointObj,
	ReturnPrim:    pointOnly,
	ReturnRef:     pointObj,
	ExplicitThrow: pointObj,
	ImplicitThrow: pointOnly,
	Quad:          pointOnly,
	BasicBlock:    pointOnly,
	ThreadStart:   pointObj,
	ThreadJoin:    pointObj,
	AcquireLock:   pointObj,
	ReleaseLock:   pointObj,
	Wait:          pointObj,
	Notify:        pointObj,
	NotifyAll:     pointObj,
	Finalize:      {FieldO},
}

// Layout returns the fields carried by events of kind k, in wire order.
func Layout(k Kind) []Field {
	if !k.Valid() {
		return nil
	}
	return layouts[k]
}

// Blank returns an event of kind k with every field unset.
func Blank(k Kind) Event {
	return Event{Kind: k, E: -1, H: -1, T: -1, B: -1, F: -1, I: -1, O: -1, M: -1}
}

func (ev *Event) slot(f Field) *int64 {
	switch f {
	case FieldE:
		return &ev.E
	case FieldH:
		return &ev.H
	case FieldT:
		return &ev.T
	case FieldB:
		return &ev.B
	case FieldF:
		return &ev.F
	case FieldI:
		return &ev.I
	case FieldO:
		return &ev.O
	}
	return &ev.M
}

// Get returns the value of field f.
func (ev Event) Get(f Field) int64 { return *ev.slot(f) }

// Set assigns field f.
func (ev *Event) Set(f Field, v int64) { *ev.slot(f) = v }

var fieldNames = [...]string{"e", "h", "t", "b", "f", "i", "o", "m"}

func (f Field) String() string {
	if int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return "?"
}

func (ev Event) String() string {
	var b strings.Builder
	b.WriteString(ev.Kind.String())
	for _, f := range Layout(ev.Kind) {
		fmt.Fprintf(&b, " %s=%d", f, ev.Get(f))
	}
	return b.String()
}

// Decoder yields events in trace order. Next returns io.EOF after the last
// event.
type Decoder interface {
	Next() (Event, error)
}

// Encoder writes events.
type Encoder interface {
	Encode(ev Event) error
	Flush() error
}
