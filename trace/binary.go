// ABOUTME: Compact binary trace format: magic header, then length-prefixed varint records
// ABOUTME: Decoder skips malformed records within an error budget and reports progress

package trace

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic opens every binary trace.
const Magic = "heapsnap trace\n"

const (
	binaryVersion = 1

	// maxPayload bounds a record; no layout needs more than 5 varints
	maxPayload = 5 * binary.MaxVarintLen64
)

// ErrBadHeader is returned when a binary trace does not start with Magic
// followed by a supported version.
var ErrBadHeader = errors.New("bad binary trace header")

// Binary is the binary trace format.
//
// Each record is uvarint(kind) uvarint(len) payload, where the payload holds
// the kind's layout fields as zig-zag varints. The length prefix lets the
// decoder skip records it cannot interpret without losing its place.
type Binary struct{}

func (Binary) Name() string { return "binary" }

func (Binary) Sniff(head []byte) bool {
	return bytes.HasPrefix(head, []byte(Magic))
}

func (Binary) NewDecoder(r io.Reader, opts Options) (Decoder, error) {
	d := &binaryDecoder{opts: opts}
	d.r = &countingReader{r: bufio.NewReader(r), n: &d.bytes}

	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(d.r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if string(header) != Magic {
		return nil, fmt.Errorf("%w: %q", ErrBadHeader, header)
	}
	version, err := binary.ReadUvarint(d.r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrBadHeader, err)
	}
	if version != binaryVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, version)
	}
	return d, nil
}

func (Binary) NewEncoder(w io.Writer) (Encoder, error) {
	e := &binaryEncoder{w: bufio.NewWriter(w)}
	if _, err := e.w.WriteString(Magic); err != nil {
		return nil, err
	}
	if _, err := e.w.Write(binary.AppendUvarint(nil, binaryVersion)); err != nil {
		return nil, err
	}
	return e, nil
}

// countingReader tracks how many bytes were consumed.
type countingReader struct {
	r *bufio.Reader
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		*c.n++
	}
	return b, err
}

type binaryDecoder struct {
	r    *countingReader
	opts Options

	bytes  int64
	events int64
	errors int
	done   bool

	// inSync is false once the stream position is no longer at a record
	// boundary; nothing after that point can be trusted
	inSync  bool
	payload [maxPayload]byte
}

func (d *binaryDecoder) Next() (Event, error) {
	for !d.done {
		ev, err := d.record()
		if err == nil {
			d.events++
			if d.opts.OnProgress != nil && d.opts.ProgressEvery > 0 && d.events%d.opts.ProgressEvery == 0 {
				d.opts.OnProgress(d.bytes, d.events)
			}
			return ev, nil
		}
		if err == io.EOF {
			break
		}
		if budgetErr := d.skip(err); budgetErr != nil {
			d.done = true
			return Event{}, budgetErr
		}
		if !d.inSync {
			break
		}
	}
	if !d.done {
		d.done = true
		if d.opts.OnProgress != nil {
			d.opts.OnProgress(d.bytes, d.events)
		}
	}
	return Event{}, io.EOF
}

// skip charges err against the error budget.
func (d *binaryDecoder) skip(err error) error {
	d.errors++
	if d.opts.OnError != nil {
		d.opts.OnError(err)
	}
	if d.errors > d.opts.MaxErrors {
		return fmt.Errorf("%w (%d): %w", ErrTooManyErrors, d.errors, err)
	}
	return nil
}

// record reads one record. io.EOF means the stream ended cleanly between
// records.
func (d *binaryDecoder) record() (Event, error) {
	offset := d.bytes
	d.inSync = false

	tag, err := binary.ReadUvarint(d.r)
	if err == io.EOF && d.bytes == offset {
		return Event{}, io.EOF
	}
	if err != nil {
		return Event{}, fmt.Errorf("offset %d: reading kind: %w", offset, noEOF(err))
	}
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		return Event{}, fmt.Errorf("offset %d: reading length: %w", offset, noEOF(err))
	}
	if n > maxPayload {
		return Event{}, fmt.Errorf("offset %d: record length %d exceeds %d", offset, n, maxPayload)
	}
	payload := d.payload[:n]
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Event{}, fmt.Errorf("offset %d: reading payload: %w", offset, noEOF(err))
	}
	d.inSync = true

	if tag >= uint64(numKinds) {
		return Event{}, fmt.Errorf("offset %d: %w: %d", offset, ErrUnknownKind, tag)
	}
	k := Kind(tag)
	ev := Blank(k)
	pr := bytes.NewReader(payload)
	for _, f := range Layout(k) {
		v, err := binary.ReadVarint(pr)
		if err != nil {
			return Event{}, fmt.Errorf("offset %d: %s: field %s: %w", offset, k, f, noEOF(err))
		}
		ev.Set(f, v)
	}
	if pr.Len() != 0 {
		return Event{}, fmt.Errorf("offset %d: %s: %d trailing bytes", offset, k, pr.Len())
	}
	return ev, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

type binaryEncoder struct {
	w   *bufio.Writer
	buf []byte
}

func (e *binaryEncoder) Encode(ev Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(ev.Kind))
	}
	var payload [maxPayload]byte
	body := payload[:0]
	for _, f := range Layout(ev.Kind) {
		body = binary.AppendVarint(body, ev.Get(f))
	}

	e.buf = binary.AppendUvarint(e.buf[:0], uint64(ev.Kind))
	e.buf = binary.AppendUvarint(e.buf, uint64(len(body)))
	e.buf = append(e.buf, body...)
	_, err := e.w.Write(e.buf)
	return err
}

func (e *binaryEncoder) Flush() error { return e.w.Flush() }

func init() {
	Register(Binary{})
}
