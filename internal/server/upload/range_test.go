package upload

import (
	"errors"
	"testing"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/server/models"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Spec
		wantErr bool
	}{
		{name: "content-range form", in: "bytes 0-39999/50000", want: Spec{Start: 0, End: 39999, Total: 50000}},
		{name: "bare triple", in: "0-39999/50000", want: Spec{Start: 0, End: 39999, Total: 50000}},
		{name: "no total", in: "40000-49999", want: Spec{Start: 40000, End: 49999}},
		{name: "wildcard total", in: "bytes 0-99/*", want: Spec{Start: 0, End: 99}},
		{name: "empty", in: "", wantErr: true},
		{name: "missing dash", in: "bytes 42/100", wantErr: true},
		{name: "garbage start", in: "x-10/100", wantErr: true},
		{name: "garbage total", in: "0-10/ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.in)
			if tt.wantErr {
				if !errors.Is(err, common.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpec(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseSpec(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSpec_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		size    int64
		want    Range
		wantErr bool
	}{
		{name: "ok", spec: Spec{Start: 0, End: 9, Total: 100}, size: 100, want: Range{Start: 0, End: 9}},
		{name: "total omitted", spec: Spec{Start: 90, End: 99}, size: 100, want: Range{Start: 90, End: 99}},
		{name: "total mismatch", spec: Spec{Start: 0, End: 9, Total: 50}, size: 100, wantErr: true},
		{name: "negative start", spec: Spec{Start: -1, End: 9}, size: 100, wantErr: true},
		{name: "inverted", spec: Spec{Start: 10, End: 9}, size: 100, wantErr: true},
		{name: "past end", spec: Spec{Start: 90, End: 100}, size: 100, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.spec.Normalize(tt.size)
			if tt.wantErr {
				if !errors.Is(err, common.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Normalize = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRange_Len(t *testing.T) {
	if got := (Range{Start: 0, End: 0}).Len(); got != 1 {
		t.Fatalf("single byte range length = %d", got)
	}
	if got := (Range{Start: 100, End: 199}).Len(); got != 100 {
		t.Fatalf("length = %d, want 100", got)
	}
}

func TestCovered(t *testing.T) {
	mk := func(pairs ...[2]int64) []models.ChunkRange {
		out := make([]models.ChunkRange, 0, len(pairs))
		for _, p := range pairs {
			out = append(out, models.ChunkRange{StartByte: p[0], EndByte: p[1]})
		}
		return out
	}

	if !covered(mk([2]int64{0, 49}, [2]int64{50, 99}), 100) {
		t.Fatal("contiguous ranges must cover")
	}
	if covered(mk([2]int64{0, 49}, [2]int64{60, 99}), 100) {
		t.Fatal("gap must not cover")
	}
	if covered(mk([2]int64{0, 49}), 100) {
		t.Fatal("short coverage must not cover")
	}
	if covered(nil, 1) {
		t.Fatal("empty ranges must not cover")
	}
	if !covered(mk([2]int64{0, 99}), 100) {
		t.Fatal("single full range must cover")
	}
}

func TestCheckChunkGrid(t *testing.T) {
	// size 100, chunk 40: valid chunks are 0-39, 40-79, 80-99.
	if err := checkChunkGrid(Range{Start: 0, End: 39}, 100, 40); err != nil {
		t.Fatalf("aligned chunk rejected: %v", err)
	}
	if err := checkChunkGrid(Range{Start: 80, End: 99}, 100, 40); err != nil {
		t.Fatalf("short tail chunk rejected: %v", err)
	}
	if err := checkChunkGrid(Range{Start: 10, End: 49}, 100, 40); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("misaligned start accepted: %v", err)
	}
	if err := checkChunkGrid(Range{Start: 0, End: 49}, 100, 40); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("oversized chunk accepted: %v", err)
	}
}
