// Package policy maps the number of active members to the vouching
// requirement for admission.
package policy

import (
	"fmt"
	"time"
)

// Phase is the registration phase recorded on ledger entries.
type Phase string

const (
	Genesis  Phase = "genesis"
	Founding Phase = "founding"
	Growth   Phase = "growth"
	Stable   Phase = "stable"
)

// Active-member thresholds at which the next phase begins.
const (
	GrowthThreshold = 50
	StableThreshold = 500
)

const day = 24 * time.Hour

// Requirement is what a non-genesis admission must satisfy.
//
// MinVoucherAge is zero when vouchers need no minimum tenure.
type Requirement struct {
	Phase           Phase
	RequiredVouches int
	MinVoucherAge   time.Duration
}

// ForActiveCount returns the requirement for a ledger with n active members.
// Negative counts are treated as zero.
func ForActiveCount(n int) Requirement {
	switch {
	case n <= 0:
		return Requirement{Phase: Genesis}
	case n < GrowthThreshold:
		return Requirement{Phase: Founding, RequiredVouches: 1}
	case n < StableThreshold:
		return Requirement{Phase: Growth, RequiredVouches: 2, MinVoucherAge: 30 * day}
	default:
		return Requirement{Phase: Stable, RequiredVouches: 3, MinVoucherAge: 90 * day}
	}
}

// MinVoucherAgeSeconds is MinVoucherAge in whole seconds.
func (r Requirement) MinVoucherAgeSeconds() int64 {
	return int64(r.MinVoucherAge / time.Second)
}

// Valid reports whether p is one of the four known phases.
func (p Phase) Valid() bool {
	switch p {
	case Genesis, Founding, Growth, Stable:
		return true
	}
	return false
}

// ParsePhase converts a stored phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("policy: unknown phase %q", s)
	}
	return p, nil
}

// Phases lists every phase in admission order.
func Phases() []Phase {
	return []Phase{Genesis, Founding, Growth, Stable}
}
