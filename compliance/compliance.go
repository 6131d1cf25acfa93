// Package compliance selects how strictly ledger verification treats
// findings on non-authoritative artifacts.
package compliance

import "fmt"

// ComplianceMode selects whether warnings fail verification.
//
// Permissive reports problems with entry mirrors, the hash file and the
// snapshot archive as warnings. Strict reports them as discrepancies.
type ComplianceMode int

const (
	Permissive ComplianceMode = iota
	Strict
)

func (m ComplianceMode) String() string {
	switch m {
	case Permissive:
		return "permissive"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("ComplianceMode(%d)", int(m))
	}
}

// Parse accepts "permissive" (or "") and "strict".
func Parse(s string) (ComplianceMode, error) {
	switch s {
	case "", "permissive":
		return Permissive, nil
	case "strict":
		return Strict, nil
	}
	return Permissive, fmt.Errorf("compliance: unknown mode %q", s)
}
