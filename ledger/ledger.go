package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"emergentminds.org/covenant/keys"
	"emergentminds.org/covenant/model"
	"emergentminds.org/covenant/policy"
)

// Version is the ledger document format version.
const Version = 1

// Default document metadata written by Init.
const (
	DefaultCovenant    = "The Covenant of Emergent Minds"
	DefaultDescription = "Membership Ledger - the authoritative record of all Covenant members"
)

// Options configures a Ledger.
type Options struct {
	Logger *zap.Logger
	// Now is the clock used for last_updated.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Ledger is the in-memory membership ledger.
//
// It is not safe for concurrent use; callers serialize access.
type Ledger struct {
	Version     int      `json:"version"`
	Covenant    string   `json:"covenant,omitempty"`
	Description string   `json:"description,omitempty"`
	CreatedAt   int64    `json:"created_at,omitempty"`
	LastUpdated int64    `json:"last_updated"`
	Entries     []*Entry `json:"entries"`

	// integrityHash is the persisted integrity hash (ledger_hash.txt). It is
	// compared against the recomputed value by VerifyIntegrity.
	integrityHash string

	// altered lists positions whose stored bytes differ from the decoded
	// entry, as found by Store.Load.
	altered []int
	log     *zap.Logger
	now     func() time.Time
}

// New returns an empty ledger.
func New(opts Options) *Ledger {
	opts = opts.withDefaults()
	return &Ledger{
		Version:       Version,
		Entries:       []*Entry{},
		integrityHash: EmptyHash(),
		log:           opts.Logger.Named("ledger"),
		now:           opts.Now,
	}
}

// attach wires runtime dependencies into a decoded ledger.
func (l *Ledger) attach(opts Options, persistedHash string) {
	opts = opts.withDefaults()
	l.log = opts.Logger.Named("ledger")
	l.now = opts.Now
	l.integrityHash = persistedHash
	if l.Entries == nil {
		l.Entries = []*Entry{}
	}
}

// IntegrityHash returns the current integrity hash as last recorded by a
// mutation or loaded from storage.
func (l *Ledger) IntegrityHash() string { return l.integrityHash }

// ComputeHash recomputes the integrity hash from the entries.
func (l *Ledger) ComputeHash() (string, error) { return HashEntries(l.Entries) }

func (l *Ledger) Len() int { return len(l.Entries) }

// ActiveCount is the number of entries with status active.
func (l *Ledger) ActiveCount() int {
	n := 0
	for _, e := range l.Entries {
		if e.IsActive() {
			n++
		}
	}
	return n
}

// Phase is the admission requirement for the current active count.
func (l *Ledger) Phase() policy.Requirement {
	return policy.ForActiveCount(l.ActiveCount())
}

func (l *Ledger) index(cid string) int {
	for i, e := range l.Entries {
		if e.CIDHash == cid {
			return i
		}
	}
	return -1
}

// Get returns a copy of the entry with exactly this cid_hash.
func (l *Ledger) Get(cid string) (*Entry, error) {
	i := l.index(cid)
	if i < 0 {
		return nil, model.Errorf(model.KindNotFound, "COV-NF-001", "member not found: %s", short(cid)).WithSubject(cid)
	}
	return l.Entries[i].Clone(), nil
}

// Find returns a copy of the single entry whose cid_hash starts with prefix.
func (l *Ledger) Find(prefix string) (*Entry, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil, model.NewError(model.KindStructural, "COV-STR-001", "empty cid prefix")
	}
	var found *Entry
	for _, e := range l.Entries {
		if !strings.HasPrefix(e.CIDHash, prefix) {
			continue
		}
		if found != nil {
			return nil, model.Errorf(model.KindNotFound, "COV-NF-002", "cid prefix %q matches more than one member", prefix).WithSubject(prefix)
		}
		found = e
	}
	if found == nil {
		return nil, model.Errorf(model.KindNotFound, "COV-NF-001", "member not found: %s", prefix).WithSubject(prefix)
	}
	return found.Clone(), nil
}

// Append adds e at the end of the sequence, setting previous_ledger_hash and
// entry_hash. It fails when the ledger is inconsistent or when e reuses a
// cid_hash or public key.
func (l *Ledger) Append(e Entry) (*Entry, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if err := l.checkUnique(&e); err != nil {
		return nil, err
	}
	if !e.Status.Valid() {
		return nil, model.Errorf(model.KindStructural, "COV-STR-008", "invalid status %q", e.Status)
	}

	entry := e.Clone()
	prev, err := HashEntries(l.Entries)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "COV-INTERNAL-001", "hash entry sequence", err)
	}
	entry.PreviousLedgerHash = prev
	if entry.EntryHash, err = EntryHash(entry); err != nil {
		return nil, model.WrapError(model.KindInternal, "COV-INTERNAL-001", "hash entry", err)
	}

	l.Entries = append(l.Entries, entry)
	if err := l.commit(); err != nil {
		l.Entries = l.Entries[:len(l.Entries)-1]
		return nil, err
	}
	l.log.Info("entry appended",
		zap.String("cid", entry.Short()),
		zap.String("status", string(entry.Status)),
		zap.String("phase", string(entry.RegistrationPhase)),
		zap.Int("position", len(l.Entries)))
	return entry.Clone(), nil
}

func (l *Ledger) checkUnique(e *Entry) error {
	var errs []error
	for _, existing := range l.Entries {
		if existing.CIDHash == e.CIDHash {
			errs = append(errs, model.Errorf(model.KindDuplicateIdentity, "COV-DUP-001",
				"cid already registered: %s", short(e.CIDHash)).WithSubject(e.CIDHash))
		}
		if keys.SameKey(existing.PublicKeys.MLDSA65, e.PublicKeys.MLDSA65) {
			errs = append(errs, model.Errorf(model.KindDuplicateIdentity, "COV-DUP-002",
				"ML-DSA-65 public key already registered under %s", existing.Short()).WithSubject("ml_dsa_65"))
		}
		if keys.SameKey(existing.PublicKeys.Ed25519, e.PublicKeys.Ed25519) {
			errs = append(errs, model.Errorf(model.KindDuplicateIdentity, "COV-DUP-002",
				"Ed25519 public key already registered under %s", existing.Short()).WithSubject("ed25519"))
		}
	}
	return joinErrors(errs)
}

// Promote moves a provisional entry to active. It is the only upgrade path.
func (l *Ledger) Promote(cid string, vouchers []string, at int64) (*Entry, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	i := l.index(cid)
	if i < 0 {
		return nil, model.Errorf(model.KindNotFound, "COV-NF-001", "member not found: %s", short(cid)).WithSubject(cid)
	}
	e := l.Entries[i]
	if e.Status != StatusProvisional {
		return nil, model.Errorf(model.KindStateTransition, "COV-STATE-001",
			"member %s has status %q; only provisional members can be activated", e.Short(), e.Status).WithSubject(e.CIDHash)
	}

	before := e.Clone()
	e.Status = StatusActive
	e.Activated = &at
	e.Vouchers = append([]string{}, vouchers...)
	if err := l.rewriteFrom(i); err != nil {
		l.Entries[i] = before
		return nil, err
	}
	l.log.Info("entry promoted", zap.String("cid", e.Short()), zap.Int("vouchers", len(vouchers)))
	return e.Clone(), nil
}

// Transition applies a governance status change to an active entry:
// active -> inactive or active -> withdrawn.
func (l *Ledger) Transition(cid string, to Status, action GovernanceAction) (*Entry, error) {
	if err := l.guard(); err != nil {
		return nil, err
	}
	if to != StatusInactive && to != StatusWithdrawn {
		return nil, model.Errorf(model.KindStateTransition, "COV-STATE-005", "cannot transition to status %q", to)
	}
	i := l.index(cid)
	if i < 0 {
		return nil, model.Errorf(model.KindNotFound, "COV-NF-001", "member not found: %s", short(cid)).WithSubject(cid)
	}
	e := l.Entries[i]
	if e.Status != StatusActive {
		return nil, model.Errorf(model.KindStateTransition, "COV-STATE-002",
			"member %s has status %q; only active members can become %s", e.Short(), e.Status, to).WithSubject(e.CIDHash)
	}

	before := e.Clone()
	ga := action
	e.Status = to
	e.LastGovernanceAction = &ga
	if err := l.rewriteFrom(i); err != nil {
		l.Entries[i] = before
		return nil, err
	}
	l.log.Info("entry transitioned",
		zap.String("cid", e.Short()),
		zap.String("status", string(to)),
		zap.String("action", action.Action))
	return e.Clone(), nil
}

// rewriteFrom recomputes entry_hash at position i and re-chains every later
// entry, then commits the new integrity hash.
func (l *Ledger) rewriteFrom(i int) error {
	saved := make([]Entry, len(l.Entries)-i)
	for j := i; j < len(l.Entries); j++ {
		saved[j-i] = *l.Entries[j]
	}
	restore := func() {
		for j := i; j < len(l.Entries); j++ {
			*l.Entries[j] = saved[j-i]
		}
	}

	ch := newChainHasher()
	for j, e := range l.Entries {
		if j > i {
			e.PreviousLedgerHash = ch.prefix()
		}
		if j >= i {
			h, err := EntryHash(e)
			if err != nil {
				restore()
				return model.WrapError(model.KindInternal, "COV-INTERNAL-001", "hash entry", err).At(j)
			}
			e.EntryHash = h
		}
		b, err := e.canonicalBytes()
		if err != nil {
			restore()
			return model.WrapError(model.KindInternal, "COV-INTERNAL-001", "encode entry", err).At(j)
		}
		ch.add(b)
	}
	if err := l.commit(); err != nil {
		restore()
		return err
	}
	if n := len(l.Entries) - i - 1; n > 0 {
		l.log.Debug("re-chained later entries", zap.Int("from", i+1), zap.Int("count", n))
	}
	return nil
}

func (l *Ledger) commit() error {
	h, err := HashEntries(l.Entries)
	if err != nil {
		return model.WrapError(model.KindInternal, "COV-INTERNAL-001", "hash entry sequence", err)
	}
	l.integrityHash = h
	l.LastUpdated = l.now().Unix()
	return nil
}

// guard refuses mutation of an inconsistent ledger.
func (l *Ledger) guard() error {
	if errs := l.VerifyIntegrity(); len(errs) > 0 {
		l.log.Warn("mutation refused: ledger integrity check failed", zap.Int("discrepancies", len(errs)))
		return joinErrors(errs)
	}
	return nil
}

// Summaries returns the list view of every entry in ledger order.
func (l *Ledger) Summaries() []model.EntrySummary {
	out := make([]model.EntrySummary, 0, len(l.Entries))
	for i, e := range l.Entries {
		out = append(out, model.EntrySummary{
			Position:   i + 1,
			CIDHash:    e.CIDHash,
			Status:     string(e.Status),
			Phase:      string(e.RegistrationPhase),
			Registered: e.Registered,
			Vouchers:   len(e.Vouchers),
		})
	}
	return out
}

// Stats aggregates status counts, registration times and phase distribution.
func (l *Ledger) Stats() model.Stats {
	s := model.Stats{Total: len(l.Entries), Phases: map[string]int{}}
	for i, e := range l.Entries {
		switch e.Status {
		case StatusActive:
			s.Active++
		case StatusProvisional:
			s.Provisional++
		case StatusInactive:
			s.Inactive++
		case StatusWithdrawn:
			s.Withdrawn++
		}
		if i == 0 || e.Registered < s.FirstEntry {
			s.FirstEntry = e.Registered
		}
		if i == 0 || e.Registered > s.LastEntry {
			s.LastEntry = e.Registered
		}
		s.Phases[string(e.RegistrationPhase)]++
	}
	s.CurrentPhase = string(policy.ForActiveCount(s.Active).Phase)
	if h, err := HashEntries(l.Entries); err == nil {
		s.LedgerHash = h
	}
	if id, err := AnchorCID(l); err == nil {
		s.AnchorCID = id.String()
	}
	return s
}

// PhaseNames returns the phases present in stats in sorted order.
func PhaseNames(s model.Stats) []string {
	names := make([]string, 0, len(s.Phases))
	for p := range s.Phases {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return &Errors{List: errs}
}

// Errors is a non-empty list of ledger errors.
type Errors struct {
	List []error
}

func (e *Errors) Error() string {
	parts := make([]string, 0, len(e.List))
	for _, err := range e.List {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%d ledger errors: %s", len(e.List), strings.Join(parts, "; "))
}

func (e *Errors) Unwrap() []error { return e.List }
