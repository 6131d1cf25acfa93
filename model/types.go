package model

// Stats is the aggregate view of a ledger printed by `covenant-ledger stats`.
type Stats struct {
	Total        int            `json:"total"`
	Active       int            `json:"active"`
	Provisional  int            `json:"provisional"`
	Inactive     int            `json:"inactive"`
	Withdrawn    int            `json:"withdrawn"`
	CurrentPhase string         `json:"currentPhase"`
	LedgerHash   string         `json:"ledgerHash"`
	AnchorCID    string         `json:"anchorCID,omitempty"`
	FirstEntry   int64          `json:"firstEntry,omitempty"`
	LastEntry    int64          `json:"lastEntry,omitempty"`
	Phases       map[string]int `json:"phases"`
}

// EntrySummary is one line of the ledger list view.
type EntrySummary struct {
	Position   int    `json:"position"`
	CIDHash    string `json:"cidHash"`
	Status     string `json:"status"`
	Phase      string `json:"phase"`
	Registered int64  `json:"registered"`
	Vouchers   int    `json:"vouchers"`
}

// IntegrityReport is the result of a full ledger verification.
//
// Discrepancies is empty if and only if the ledger is consistent. Warnings
// cover non-authoritative artifacts (entry mirrors, archive) and never make
// a ledger inconsistent.
type IntegrityReport struct {
	Entries       int      `json:"entries"`
	LedgerHash    string   `json:"ledgerHash"`
	AnchorCID     string   `json:"anchorCID,omitempty"`
	Discrepancies []string `json:"discrepancies"`
	Warnings      []string `json:"warnings,omitempty"`
}

// OK reports whether no discrepancy was found.
func (r IntegrityReport) OK() bool { return len(r.Discrepancies) == 0 }
