package policy

import (
	"testing"
	"time"
)

func TestForActiveCount_Boundaries(t *testing.T) {
	cases := []struct {
		n     int
		phase Phase
		req   int
		age   time.Duration
	}{
		{0, Genesis, 0, 0},
		{1, Founding, 1, 0},
		{49, Founding, 1, 0},
		{50, Growth, 2, 30 * 24 * time.Hour},
		{499, Growth, 2, 30 * 24 * time.Hour},
		{500, Stable, 3, 90 * 24 * time.Hour},
		{100000, Stable, 3, 90 * 24 * time.Hour},
		{-1, Genesis, 0, 0},
	}
	for _, c := range cases {
		got := ForActiveCount(c.n)
		if got.Phase != c.phase || got.RequiredVouches != c.req || got.MinVoucherAge != c.age {
			t.Fatalf("ForActiveCount(%d) = %+v, want phase=%s vouches=%d age=%s", c.n, got, c.phase, c.req, c.age)
		}
	}
}

func TestMinVoucherAgeSeconds(t *testing.T) {
	if got := ForActiveCount(50).MinVoucherAgeSeconds(); got != 30*86400 {
		t.Fatalf("growth age = %d", got)
	}
	if got := ForActiveCount(500).MinVoucherAgeSeconds(); got != 90*86400 {
		t.Fatalf("stable age = %d", got)
	}
}

func TestParsePhase(t *testing.T) {
	for _, p := range Phases() {
		got, err := ParsePhase(string(p))
		if err != nil || got != p {
			t.Fatalf("ParsePhase(%q) = %q, %v", p, got, err)
		}
	}
	if _, err := ParsePhase("bootstrap"); err == nil {
		t.Fatalf("expected unknown phase to fail")
	}
}
