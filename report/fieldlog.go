// ABOUTME: Capped log of field accesses and call sites
// ABOUTME: Each program point contributes at most a fixed number of lines

package report

import (
	"bufio"
	"fmt"
	"os"
)

// FieldLog records field accesses for offline inspection. Lines look like
//
//	n | point | thread | base value(base) | target value(target)
//	Mn | call site
//
// where n is the number of field accesses so far.
type FieldLog struct {
	f         *os.File
	w         *bufio.Writer
	maxPerKey int
	points    map[int64]int
	calls     map[int64]int
}

// OpenFieldLog creates the fieldAccesses file of d.
func (d *Dir) OpenFieldLog(maxPerKey int) (*FieldLog, error) {
	f, err := os.Create(d.Path("fieldAccesses"))
	if err != nil {
		return nil, err
	}
	return &FieldLog{
		f:         f,
		w:         bufio.NewWriter(f),
		maxPerKey: maxPerKey,
		points:    make(map[int64]int),
		calls:     make(map[int64]int),
	}, nil
}

// Access logs one field access at point e unless e is over its cap.
func (l *FieldLog) Access(n int64, e int64, point string, t int64, b int64, bval string, o int64, oval string) error {
	l.points[e]++
	if l.points[e] > l.maxPerKey {
		return nil
	}
	_, err := fmt.Fprintf(l.w, "%d | %s | %d | %d %s | %d %s\n", n, point, t, b, bval, o, oval)
	return err
}

// Call logs a call site unless it is over its cap.
func (l *FieldLog) Call(n int64, i int64, site string) error {
	l.calls[i]++
	if l.calls[i] > l.maxPerKey {
		return nil
	}
	_, err := fmt.Fprintf(l.w, "M%d | %s\n", n, site)
	return err
}

// Close flushes and closes the file.
func (l *FieldLog) Close() error {
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
