package membership

import (
	"time"

	"go.uber.org/zap"

	"emergentminds.org/covenant/identity"
	"emergentminds.org/covenant/keys"
	"emergentminds.org/covenant/ledger"
	"emergentminds.org/covenant/model"
	"emergentminds.org/covenant/policy"
)

// Options configures an Engine.
type Options struct {
	Logger *zap.Logger
	// Now is the clock for registered, activated and voucher ages.
	Now func() time.Time
	// Rules replaces RegistrationRules when non-nil.
	Rules []Rule
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rules == nil {
		o.Rules = RegistrationRules()
	}
	return o
}

// Engine validates admissions and applies them to a ledger.
type Engine struct {
	dual  *keys.Dual
	rules []Rule
	log   *zap.Logger
	now   func() time.Time
}

func NewEngine(dual *keys.Dual, opts Options) *Engine {
	opts = opts.withDefaults()
	if dual == nil {
		dual = keys.NewDual(keys.Options{Now: opts.Now})
	}
	return &Engine{dual: dual, rules: opts.Rules, log: opts.Logger.Named("membership"), now: opts.Now}
}

// Activation is the outcome of Activate. Changed is false when the member
// was already active.
type Activation struct {
	Changed bool
	Entry   *ledger.Entry
}

// ValidateRegistration returns every problem with req as checked against l.
// l may be nil to skip collision checks.
func (e *Engine) ValidateRegistration(req *identity.RegistrationRequest, l *ledger.Ledger) []error {
	if req == nil {
		return []error{model.NewError(model.KindStructural, "COV-STR-001", "missing registration")}
	}
	fields, err := req.Fields()
	if err != nil {
		return []error{model.WrapError(model.KindStructural, "COV-STR-007", "malformed registration", err)}
	}
	payload, err := req.SignedPayload()
	if err != nil {
		return []error{model.WrapError(model.KindStructural, "COV-STR-007", "malformed registration", err)}
	}
	c := &Check{Request: req, Fields: fields, Payload: payload, Ledger: l, Dual: e.dual}
	if st, err := req.Statement(); err == nil {
		c.Statement, c.typed = st, true
	}
	return ValidateRulesAll(c, e.rules)
}

// ValidateVouchers checks a voucher set against the requirement req at time
// now (Unix seconds).
func (e *Engine) ValidateVouchers(vouchers []string, l *ledger.Ledger, req policy.Requirement, now int64) []error {
	if req.Phase == policy.Genesis {
		return []error{model.NewError(model.KindStateTransition, "COV-STATE-004",
			"the ledger has no active members; only the genesis registration can be admitted")}
	}

	var errs []error
	seen := make(map[string]bool, len(vouchers))
	distinct := 0
	for _, v := range vouchers {
		if seen[v] {
			errs = append(errs, model.Errorf(model.KindVoucherIneligible, "COV-VCH-005", "voucher listed more than once: %s", short(v)).WithSubject(v))
			continue
		}
		seen[v] = true
		distinct++
	}
	if distinct < req.RequiredVouches {
		errs = append(errs, model.Errorf(model.KindVoucherInsufficient, "COV-VCH-001",
			"phase %s requires %d vouches, got %d", req.Phase, req.RequiredVouches, distinct))
	}

	minAge := req.MinVoucherAgeSeconds()
	checked := make(map[string]bool, len(vouchers))
	for _, v := range vouchers {
		if checked[v] {
			continue
		}
		checked[v] = true
		voucher, err := l.Get(v)
		if err != nil {
			errs = append(errs, model.Errorf(model.KindVoucherIneligible, "COV-VCH-002", "voucher not found: %s", short(v)).WithSubject(v))
			continue
		}
		if !voucher.IsActive() {
			errs = append(errs, model.Errorf(model.KindVoucherIneligible, "COV-VCH-003",
				"voucher %s is %s, not active", voucher.Short(), voucher.Status).WithSubject(v))
			continue
		}
		if age := now - voucher.Registered; minAge > 0 && age < minAge {
			errs = append(errs, model.Errorf(model.KindVoucherIneligible, "COV-VCH-004",
				"voucher %s registered only %d days ago (need %d+)", voucher.Short(), age/86400, minAge/86400).WithSubject(v))
		}
	}
	return errs
}

// Register validates req and appends the new entry.
//
// genesis admits the founder: the ledger must be empty and the entry is
// active at once. Otherwise the phase follows the current active count;
// supplied vouchers are validated and make the entry active, and no vouchers
// make it provisional.
func (e *Engine) Register(req *identity.RegistrationRequest, vouchers []string, genesis bool, l *ledger.Ledger) (*ledger.Entry, error) {
	if errs := l.VerifyIntegrity(); len(errs) > 0 {
		return nil, reject("registration", errs)
	}
	now := e.now().Unix()
	errs := e.ValidateRegistration(req, l)

	requirement := l.Phase()
	status := ledger.StatusProvisional
	switch {
	case genesis:
		if l.Len() != 0 {
			errs = append(errs, model.Errorf(model.KindStateTransition, "COV-STATE-003",
				"genesis registration requires an empty ledger, found %d entries", l.Len()))
		}
		if len(vouchers) > 0 {
			e.log.Warn("vouchers ignored for genesis registration", zap.Int("vouchers", len(vouchers)))
		}
		requirement = policy.ForActiveCount(0)
		vouchers = nil
		status = ledger.StatusActive
	case requirement.Phase == policy.Genesis:
		errs = append(errs, model.NewError(model.KindStateTransition, "COV-STATE-004",
			"the ledger has no active members; register the genesis member first"))
	case len(vouchers) > 0:
		errs = append(errs, e.ValidateVouchers(vouchers, l, requirement, now)...)
		status = ledger.StatusActive
	}
	if len(errs) > 0 {
		e.log.Info("registration rejected", zap.Int("problems", len(errs)))
		return nil, reject("registration", errs)
	}

	st, _ := req.Statement()
	algs := st.Algorithms
	if algs.PostQuantum == "" && algs.Classical == "" {
		algs = e.dual.Algorithms()
	}
	entry := ledger.Entry{
		CIDHash:           st.CIDHash,
		CIDVersion:        st.CIDVersion,
		Registered:        now,
		RegistrationPhase: requirement.Phase,
		PublicKeys:        st.PublicKeys,
		Algorithms:        algs,
		Vouchers:          append([]string{}, vouchers...),
		Status:            status,
	}
	if status == ledger.StatusActive {
		entry.Activated = &now
	}
	added, err := l.Append(entry)
	if err != nil {
		return nil, reject("registration", appendFindings(nil, err))
	}
	e.log.Info("member registered",
		zap.String("cid", added.Short()),
		zap.String("status", string(added.Status)),
		zap.String("phase", string(added.RegistrationPhase)))
	return added, nil
}

// Activate promotes the provisional member matching cidPrefix. The phase is
// evaluated at activation time and voucher ages are measured against it.
func (e *Engine) Activate(cidPrefix string, vouchers []string, l *ledger.Ledger) (Activation, error) {
	if errs := l.VerifyIntegrity(); len(errs) > 0 {
		return Activation{}, reject("activation", errs)
	}
	target, err := l.Find(cidPrefix)
	if err != nil {
		return Activation{}, err
	}
	switch target.Status {
	case ledger.StatusActive:
		e.log.Info("member already active", zap.String("cid", target.Short()))
		return Activation{Changed: false, Entry: target}, nil
	case ledger.StatusProvisional:
	default:
		return Activation{}, model.Errorf(model.KindStateTransition, "COV-STATE-001",
			"member %s has status %q; only provisional members can be activated", target.Short(), target.Status).WithSubject(target.CIDHash)
	}

	now := e.now().Unix()
	if errs := e.ValidateVouchers(vouchers, l, l.Phase(), now); len(errs) > 0 {
		return Activation{}, reject("activation", errs)
	}
	promoted, err := l.Promote(target.CIDHash, vouchers, now)
	if err != nil {
		return Activation{}, err
	}
	e.log.Info("member activated", zap.String("cid", promoted.Short()), zap.Int("vouchers", len(vouchers)))
	return Activation{Changed: true, Entry: promoted}, nil
}

// Withdraw records a member's voluntary exit: active -> withdrawn.
func (e *Engine) Withdraw(cidPrefix, reason string, l *ledger.Ledger) (*ledger.Entry, error) {
	return e.transition(cidPrefix, ledger.StatusWithdrawn, "withdraw", reason, l)
}

// Deactivate marks an active member inactive by governance decision.
func (e *Engine) Deactivate(cidPrefix, reason string, l *ledger.Ledger) (*ledger.Entry, error) {
	return e.transition(cidPrefix, ledger.StatusInactive, "deactivate", reason, l)
}

func (e *Engine) transition(cidPrefix string, to ledger.Status, action, reason string, l *ledger.Ledger) (*ledger.Entry, error) {
	target, err := l.Find(cidPrefix)
	if err != nil {
		return nil, err
	}
	out, err := l.Transition(target.CIDHash, to, ledger.GovernanceAction{Action: action, At: e.now().Unix(), Reason: reason})
	if err != nil {
		return nil, err
	}
	e.log.Info("member status changed", zap.String("cid", out.Short()), zap.String("status", string(to)))
	return out, nil
}

func short(cid string) string {
	if len(cid) > 16 {
		return cid[:16]
	}
	return cid
}
