package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"emergentminds.org/covenant/canonical"
	"emergentminds.org/covenant/compliance"
	"emergentminds.org/covenant/model"
	"emergentminds.org/covenant/storage"
)

const (
	LedgerFile = "ledger.json"
	HashFile   = "ledger_hash.txt"
	EntriesDir = "entries"
)

var (
	ErrLedgerExists = errors.New("ledger: ledger already exists")
	ErrNoLedger     = errors.New("ledger: no ledger found")
)

// Store persists a ledger as a directory:
//
//	ledger.json              authoritative document
//	ledger_hash.txt          integrity hash + "\n"
//	entries/CID-<16hex>.json per-entry mirror for readable diffs, not authoritative
//
// The whole ledger is read and written at once. Each file is replaced
// atomically, but Store takes no lock: callers must serialize writers.
type Store struct {
	Dir     string
	archive *storage.Archive
	opts    Options
	log     *zap.Logger
}

// NewStore returns a store for dir. archive may be nil.
func NewStore(dir string, archive *storage.Archive, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{Dir: dir, archive: archive, opts: opts, log: opts.Logger.Named("ledger.store")}
}

func (s *Store) path(name string) string { return filepath.Join(s.Dir, name) }

// Exists reports whether ledger.json is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path(LedgerFile))
	return err == nil
}

// Init creates and saves an empty ledger. It refuses to replace an existing one.
func (s *Store) Init() (*Ledger, error) {
	if s.Exists() {
		return nil, fmt.Errorf("%w at %s", ErrLedgerExists, s.Dir)
	}
	l := New(s.opts)
	l.Covenant = DefaultCovenant
	l.Description = DefaultDescription
	l.CreatedAt = s.opts.Now().Unix()
	l.LastUpdated = l.CreatedAt
	if _, err := s.Save(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Load reads the ledger and the persisted integrity hash. It does not verify
// integrity; see VerifyIntegrity.
func (s *Store) Load() (*Ledger, error) {
	raw, err := os.ReadFile(s.path(LedgerFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNoLedger, s.Dir)
	}
	if err != nil {
		return nil, err
	}
	stored, err := canonical.Decode(raw)
	if err != nil {
		return nil, model.WrapError(model.KindStructural, "COV-STR-009", "ledger.json is not valid JSON", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var l Ledger
	if err := dec.Decode(&l); err != nil {
		return nil, model.WrapError(model.KindStructural, "COV-STR-009", "malformed ledger.json", err)
	}
	for i, e := range l.Entries {
		if e == nil {
			return nil, model.NewError(model.KindStructural, "COV-STR-009", "ledger.json contains a null entry").At(i)
		}
	}
	altered, err := compareStored(stored, &l)
	if err != nil {
		return nil, err
	}

	persisted := ""
	if b, err := os.ReadFile(s.path(HashFile)); err == nil {
		persisted = strings.TrimSpace(string(b))
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	l.attach(s.opts, persisted)
	l.altered = altered
	if len(altered) > 0 {
		s.log.Warn("stored entries differ from their decoded form", zap.Ints("positions", altered))
	}
	s.log.Debug("ledger loaded", zap.String("dir", s.Dir), zap.Int("entries", len(l.Entries)))
	return &l, nil
}

// Save writes l and returns its integrity hash. An inconsistent ledger is
// never written: Save would otherwise persist a hash that hides the damage.
func (s *Store) Save(l *Ledger) (string, error) {
	for _, e := range l.Entries {
		if e != nil && e.Vouchers == nil {
			e.Vouchers = []string{}
		}
	}
	if errs := l.VerifyIntegrity(); len(errs) > 0 {
		return "", joinErrors(errs)
	}
	h, err := HashEntries(l.Entries)
	if err != nil {
		return "", model.WrapError(model.KindInternal, "COV-INTERNAL-001", "hash entry sequence", err)
	}
	l.integrityHash = h

	if err := os.MkdirAll(s.path(EntriesDir), 0o755); err != nil {
		return "", err
	}
	for _, e := range l.Entries {
		b, err := canonical.Indent(e)
		if err != nil {
			return "", err
		}
		if err := renameio.WriteFile(s.path(MirrorName(e.CIDHash)), b, 0o644); err != nil {
			return "", err
		}
	}
	doc, err := canonical.Indent(l)
	if err != nil {
		return "", err
	}
	if err := renameio.WriteFile(s.path(LedgerFile), doc, 0o644); err != nil {
		return "", err
	}
	if err := renameio.WriteFile(s.path(HashFile), []byte(h+"\n"), 0o644); err != nil {
		return "", err
	}

	if s.archive != nil {
		snapshot, err := canonical.Marshal(l.Entries)
		if err != nil {
			return "", err
		}
		id, err := s.archive.Put("ledger-snapshot", snapshot)
		if err != nil {
			return "", err
		}
		s.log.Debug("snapshot archived", zap.String("cid", id.String()))
	}
	s.log.Info("ledger saved", zap.String("dir", s.Dir), zap.Int("entries", len(l.Entries)), zap.String("hash", h))
	return h, nil
}

// compareStored checks that decoding lost nothing: the typed ledger must
// encode back to exactly the stored document. encoding/json matches names
// case-insensitively, so a renamed key would otherwise go unnoticed.
// Differences outside the entries make the file malformed; the positions of
// differing entries are returned for VerifyIntegrity to report.
func compareStored(stored any, l *Ledger) ([]int, error) {
	malformed := func(msg string) error {
		return model.NewError(model.KindStructural, "COV-STR-009", msg)
	}
	doc, ok := stored.(map[string]any)
	if !ok {
		return nil, malformed("ledger.json is not an object")
	}
	entries, ok := doc["entries"].([]any)
	if !ok || len(entries) != len(l.Entries) {
		return nil, malformed("ledger.json has no entries array")
	}

	typed, err := canonical.Marshal(l)
	if err != nil {
		return nil, model.WrapError(model.KindStructural, "COV-STR-009", "encode ledger", err)
	}
	tv, err := canonical.Decode(typed)
	if err != nil {
		return nil, model.WrapError(model.KindStructural, "COV-STR-009", "encode ledger", err)
	}
	header, _ := tv.(map[string]any)
	delete(header, "entries")
	storedHeader := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "entries" {
			storedHeader[k] = v
		}
	}
	a, errA := canonical.Marshal(header)
	b, errB := canonical.Marshal(storedHeader)
	if errA != nil || errB != nil || !bytes.Equal(a, b) {
		return nil, malformed("ledger.json header does not match its fields")
	}

	var altered []int
	for i, raw := range entries {
		want, err := canonical.Marshal(raw)
		if err != nil {
			altered = append(altered, i)
			continue
		}
		got, err := l.Entries[i].canonicalBytes()
		if err != nil || !bytes.Equal(want, got) {
			altered = append(altered, i)
		}
	}
	return altered, nil
}

// MirrorName is the path of an entry mirror relative to the ledger directory.
func MirrorName(cid string) string {
	return filepath.Join(EntriesDir, "CID-"+short(cid)+".json")
}

// Verify runs VerifyIntegrity and inspects the non-authoritative artifacts.
//
// In compliance.Strict mode, findings that are normally warnings (mirror
// count, missing hash file of an empty ledger, snapshot not archived) become
// discrepancies. A non-empty ledger without its hash file always fails.
func (s *Store) Verify(l *Ledger, mode compliance.ComplianceMode) model.IntegrityReport {
	rep := model.IntegrityReport{Entries: len(l.Entries), Discrepancies: []string{}}
	for _, err := range l.VerifyIntegrity() {
		rep.Discrepancies = append(rep.Discrepancies, err.Error())
	}
	if h, err := HashEntries(l.Entries); err == nil {
		rep.LedgerHash = h
	}
	anchor, anchorErr := AnchorCID(l)
	if anchorErr == nil {
		rep.AnchorCID = anchor.String()
	}

	var warnings []string
	if l.IntegrityHash() == "" && len(l.Entries) == 0 {
		warnings = append(warnings, fmt.Sprintf("%s is missing", HashFile))
	}
	if mirrors, err := filepath.Glob(s.path(filepath.Join(EntriesDir, "CID-*.json"))); err == nil && len(mirrors) != len(l.Entries) {
		warnings = append(warnings, fmt.Sprintf("%d entry files but %d ledger entries", len(mirrors), len(l.Entries)))
	}
	if s.archive != nil && anchorErr == nil && !s.archive.Has(anchor) {
		warnings = append(warnings, fmt.Sprintf("snapshot %s is not archived", anchor))
	}

	if mode == compliance.Strict {
		rep.Discrepancies = append(rep.Discrepancies, warnings...)
	} else {
		rep.Warnings = warnings
	}
	return rep
}
