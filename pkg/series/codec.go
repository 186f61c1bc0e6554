package series

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// WriteTo writes one "x, y, tag" line per point.
func (s *Series) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64
	for _, p := range s.points {
		n, err := fmt.Fprintf(bw, "%d, %d, %d\n", p.X, p.Y, p.Tag)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}

// ReadFrom appends the points read from r. Lines too short to hold a point
// are skipped; any other line that does not parse is an error.
func (s *Series) ReadFrom(r io.Reader) (int64, error) {
	if s.fixed {
		return 0, ErrFixedSize
	}

	var total int64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		total += int64(len(text)) + 1
		if len(text) < 4 {
			continue
		}
		p, err := parsePoint(text)
		if err != nil {
			return total, pkgerrors.Wrapf(err, "line %d", line)
		}
		_ = s.Append(p.X, p.Y, p.Tag)
	}
	if err := sc.Err(); err != nil {
		return total, err
	}
	return total, nil
}

func parsePoint(text string) (Point, error) {
	fields := strings.Split(text, ",")
	if len(fields) != 3 {
		return Point{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	var v [3]int64
	for i, f := range fields {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return Point{}, err
		}
		v[i] = n
	}
	return Point{X: v[0], Y: v[1], Tag: v[2]}, nil
}
