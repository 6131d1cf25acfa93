package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"emergentminds.org/covenant/canonical"
	"emergentminds.org/covenant/keys"
	"emergentminds.org/covenant/policy"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusProvisional Status = "provisional"
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusWithdrawn   Status = "withdrawn"
)

func (s Status) Valid() bool {
	switch s {
	case StatusProvisional, StatusActive, StatusInactive, StatusWithdrawn:
		return true
	}
	return false
}

// GovernanceAction records the last status change made outside admission.
type GovernanceAction struct {
	Action string `json:"action"`
	At     int64  `json:"at"`
	Reason string `json:"reason,omitempty"`
}

// Entry is one member record. JSON names are normative: they feed the hashes.
type Entry struct {
	CIDHash              string            `json:"cid_hash"`
	CIDVersion           int               `json:"cid_version"`
	Registered           int64             `json:"registered"`
	Activated            *int64            `json:"activated"`
	RegistrationPhase    policy.Phase      `json:"registration_phase"`
	PublicKeys           keys.PublicKeys   `json:"public_keys"`
	Algorithms           keys.Algorithms   `json:"algorithms"`
	Vouchers             []string          `json:"vouchers"`
	Status               Status            `json:"status"`
	LastGovernanceAction *GovernanceAction `json:"last_governance_action"`
	RegistrationBlock    json.RawMessage   `json:"registration_block"`
	PreviousLedgerHash   string            `json:"previous_ledger_hash"`
	EntryHash            string            `json:"entry_hash"`
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Activated != nil {
		at := *e.Activated
		c.Activated = &at
	}
	c.Vouchers = append([]string{}, e.Vouchers...)
	if e.LastGovernanceAction != nil {
		ga := *e.LastGovernanceAction
		c.LastGovernanceAction = &ga
	}
	if e.RegistrationBlock != nil {
		c.RegistrationBlock = append(json.RawMessage(nil), e.RegistrationBlock...)
	}
	return &c
}

// IsActive reports whether e may vouch.
func (e *Entry) IsActive() bool { return e.Status == StatusActive }

// Short returns the first 16 hex characters of the cid_hash.
func (e *Entry) Short() string { return short(e.CIDHash) }

func short(cid string) string {
	if len(cid) > 16 {
		return cid[:16]
	}
	return cid
}

// canonicalBytes is the canonical encoding of e as it appears in the
// entry sequence.
func (e *Entry) canonicalBytes() ([]byte, error) {
	n := *e
	if n.Vouchers == nil {
		n.Vouchers = []string{}
	}
	return canonical.Marshal(n)
}

// EntryHash computes hex(SHA256(canonical(e without entry_hash))).
func EntryHash(e *Entry) (string, error) {
	b, err := e.canonicalBytes()
	if err != nil {
		return "", err
	}
	v, err := canonical.Decode(b)
	if err != nil {
		return "", err
	}
	obj := v.(map[string]any)
	delete(obj, "entry_hash")
	return canonical.HashHex(obj)
}

// HashEntries computes the integrity hash of an entry sequence. The empty
// sequence hashes the two bytes "[]".
func HashEntries(entries []*Entry) (string, error) {
	ch := newChainHasher()
	for _, e := range entries {
		b, err := e.canonicalBytes()
		if err != nil {
			return "", err
		}
		ch.add(b)
	}
	return ch.prefix(), nil
}

// EmptyHash is HashEntries(nil).
func EmptyHash() string {
	sum := sha256.Sum256([]byte("[]"))
	return hex.EncodeToString(sum[:])
}
