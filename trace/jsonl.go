// ABOUTME: JSON-lines trace format, one event object per line
// ABOUTME: Meant for hand-written traces, fixtures and inspecting binary traces

package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// JSONL is the JSON-lines trace format. Each non-blank line not starting
// with '#' holds one event, e.g.
//
//	{"kind":"putfield-ref","e":1,"t":0,"b":5,"f":2,"o":7}
//
// Fields a line omits are -1.
type JSONL struct{}

type jsonEvent struct {
	Kind *Kind  `json:"kind"`
	E    *int64 `json:"e"`
	H    *int64 `json:"h"`
	T    *int64 `json:"t"`
	B    *int64 `json:"b"`
	F    *int64 `json:"f"`
	I    *int64 `json:"i"`
	O    *int64 `json:"o"`
	M    *int64 `json:"m"`
}

func (JSONL) Name() string { return "jsonl" }

// Sniff accepts input whose first event line is a JSON object with a kind.
func (JSONL) Sniff(head []byte) bool {
	for len(head) > 0 {
		line := head
		rest := []byte(nil)
		if i := bytes.IndexByte(head, '\n'); i >= 0 {
			line, rest = head[:i], head[i+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 && line[0] != '#' {
			return line[0] == '{' && bytes.Contains(line, []byte(`"kind"`))
		}
		head = rest
	}
	return false
}

func (JSONL) NewDecoder(r io.Reader, opts Options) (Decoder, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &jsonlDecoder{sc: sc, opts: opts}, nil
}

func (JSONL) NewEncoder(w io.Writer) (Encoder, error) {
	return &jsonlEncoder{w: bufio.NewWriter(w)}, nil
}

type jsonlDecoder struct {
	sc     *bufio.Scanner
	opts   Options
	line   int
	bytes  int64
	events int64
	errors int
	done   bool
}

func (d *jsonlDecoder) Next() (Event, error) {
	for !d.done && d.sc.Scan() {
		d.line++
		raw := d.sc.Bytes()
		d.bytes += int64(len(raw)) + 1
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		ev, err := decodeLine(raw)
		if err != nil {
			err = fmt.Errorf("line %d: %w", d.line, err)
			d.errors++
			if d.opts.OnError != nil {
				d.opts.OnError(err)
			}
			if d.errors > d.opts.MaxErrors {
				d.done = true
				return Event{}, fmt.Errorf("%w (%d): %w", ErrTooManyErrors, d.errors, err)
			}
			continue
		}

		d.events++
		if d.opts.OnProgress != nil && d.opts.ProgressEvery > 0 && d.events%d.opts.ProgressEvery == 0 {
			d.opts.OnProgress(d.bytes, d.events)
		}
		return ev, nil
	}
	if err := d.sc.Err(); err != nil && !d.done {
		d.done = true
		return Event{}, fmt.Errorf("line %d: %w", d.line+1, err)
	}
	if !d.done {
		d.done = true
		if d.opts.OnProgress != nil {
			d.opts.OnProgress(d.bytes, d.events)
		}
	}
	return Event{}, io.EOF
}

func decodeLine(raw []byte) (Event, error) {
	var je jsonEvent
	if err := json.Unmarshal(raw, &je); err != nil {
		return Event{}, err
	}
	if je.Kind == nil {
		return Event{}, fmt.Errorf("missing kind")
	}
	ev := Blank(*je.Kind)
	for f, v := range map[Field]*int64{
		FieldE: je.E, FieldH: je.H, FieldT: je.T, FieldB: je.B,
		FieldF: je.F, FieldI: je.I, FieldO: je.O, FieldM: je.M,
	} {
		if v != nil {
			ev.Set(f, *v)
		}
	}
	return ev, nil
}

type jsonlEncoder struct {
	w   *bufio.Writer
	buf []byte
}

// Encode writes the kind and its layout fields, in layout order.
func (e *jsonlEncoder) Encode(ev Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(ev.Kind))
	}
	b := append(e.buf[:0], `{"kind":"`...)
	b = append(b, ev.Kind.String()...)
	b = append(b, '"')
	for _, f := range Layout(ev.Kind) {
		b = append(b, `,"`...)
		b = append(b, f.String()...)
		b = append(b, `":`...)
		b = strconv.AppendInt(b, ev.Get(f), 10)
	}
	b = append(b, "}\n"...)
	e.buf = b
	_, err := e.w.Write(b)
	return err
}

func (e *jsonlEncoder) Flush() error { return e.w.Flush() }

func init() {
	Register(JSONL{})
}
