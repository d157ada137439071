package stages

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestKeyed(t *testing.T) {
	cases := []struct {
		name     string
		pipeline string
		want     []uint64
	}{
		{"dedup adjacent only", "values 1 1 2 2 1 | dedup", []uint64{1, 2, 1}},
		{"dedup by key", "values 3 5 4 6 7 | dedup cur % 2", []uint64{3, 4, 7}},
		{"dedup empty", "values | dedup", nil},
		{"sort", "values 5 3 8 2 | sort", []uint64{2, 3, 5, 8}},
		{"sort stable", "values 4 3 2 1 | sort cur % 2", []uint64{4, 2, 3, 1}},
		{"max first of ties", "values 3 7 5 7 | max cur % 4", []uint64{3}},
		{"min first of ties", "values 6 5 9 1 | min cur % 4", []uint64{5}},
		{"max plain", "values 3 9 2 | max", []uint64{9}},
		{"max empty", "values | max", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			if diff := cmp.Diff(tc.want, h.values(tc.pipeline), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("%q (-want +got):\n%s", tc.pipeline, diff)
			}
		})
	}
}

func TestDedup_Lazy(t *testing.T) {
	h := newHarness(t)
	got := h.values("values 1 1 2 3 4 5 | dedup cur + 0 | head 2")
	if diff := cmp.Diff([]uint64{1, 2}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	// head's count, then keys for 1, 1 and 2.
	if h.backend.calls != 4 {
		t.Errorf("backend calls = %d, want 4", h.backend.calls)
	}
}
