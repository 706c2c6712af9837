package upload

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/server/models"
)

// Range is the canonical byte range every internal code path operates on.
// Both bounds are inclusive.
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes the range covers.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// Spec is the loosely-typed chunk range as submitted by callers: either
// built directly as a structured triple, or parsed from a Content-Range
// style string. Total may be zero when the caller omitted it.
type Spec struct {
	Start int64
	End   int64
	Total int64
}

// ParseSpec accepts "bytes 0-39999/50000", "0-39999/50000" and "0-39999".
func ParseSpec(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "bytes")
	s = strings.TrimSpace(s)
	if s == "" {
		return Spec{}, fmt.Errorf("empty range: %w", common.ErrValidation)
	}

	var total int64
	if i := strings.IndexByte(s, '/'); i >= 0 {
		totalPart := strings.TrimSpace(s[i+1:])
		s = strings.TrimSpace(s[:i])
		if totalPart != "*" {
			v, err := strconv.ParseInt(totalPart, 10, 64)
			if err != nil {
				return Spec{}, fmt.Errorf("bad range total %q: %w", totalPart, common.ErrValidation)
			}
			total = v
		}
	}

	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return Spec{}, fmt.Errorf("bad range %q: %w", s, common.ErrValidation)
	}
	startByte, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	if err != nil {
		return Spec{}, fmt.Errorf("bad range start %q: %w", start, common.ErrValidation)
	}
	endByte, err := strconv.ParseInt(strings.TrimSpace(end), 10, 64)
	if err != nil {
		return Spec{}, fmt.Errorf("bad range end %q: %w", end, common.ErrValidation)
	}
	return Spec{Start: startByte, End: endByte, Total: total}, nil
}

// Normalize validates the spec against the session's declared size and
// returns the canonical range. A non-zero Total inconsistent with the
// session is rejected, as is any byte outside [0, totalSize).
func (s Spec) Normalize(totalSize int64) (Range, error) {
	if s.Total != 0 && s.Total != totalSize {
		return Range{}, fmt.Errorf("range total %d does not match session size %d: %w",
			s.Total, totalSize, common.ErrValidation)
	}
	if s.Start < 0 || s.End < s.Start {
		return Range{}, fmt.Errorf("bad range %d-%d: %w", s.Start, s.End, common.ErrValidation)
	}
	if s.End >= totalSize {
		return Range{}, fmt.Errorf("range %d-%d exceeds size %d: %w",
			s.Start, s.End, totalSize, common.ErrValidation)
	}
	return Range{Start: s.Start, End: s.End}, nil
}

// covered reports whether the union of recorded ranges covers every byte
// of [0, totalSize). Ranges arrive sorted by start byte.
func covered(ranges []models.ChunkRange, totalSize int64) bool {
	var next int64
	for _, r := range ranges {
		if r.StartByte > next {
			return false
		}
		if r.EndByte+1 > next {
			next = r.EndByte + 1
		}
	}
	return next >= totalSize
}
