package membership

import (
	"errors"

	"emergentminds.org/covenant/identity"
	"emergentminds.org/covenant/keys"
	"emergentminds.org/covenant/ledger"
	"emergentminds.org/covenant/model"
)

// Check is the input a registration Rule is evaluated against.
type Check struct {
	Request *identity.RegistrationRequest
	// Fields is the registration as received; Statement is its typed view.
	Fields    map[string]any
	Statement identity.Statement
	// Payload is canonical(registration), the signed bytes.
	Payload []byte
	Ledger  *ledger.Ledger
	Dual    *keys.Dual

	typed bool
}

// Rule is an explicit, named validation rule.
//
// ID must be stable across versions.
// Apply must be deterministic and side-effect free. It may return several
// findings joined with errors.Join.
type Rule struct {
	ID    string
	Apply func(*Check) error
}

func (r Rule) apply(c *Check) error {
	if r.Apply == nil {
		return model.NewError(model.KindInternal, "COV-INTERNAL-001", "nil rule Apply").WithSubject(r.ID)
	}
	return r.Apply(c)
}

// ValidateRulesAll runs all rules in order, returning a (deterministically
// ordered) slice of all violations.
func ValidateRulesAll(c *Check, rules []Rule) []error {
	var out []error
	for _, r := range rules {
		out = appendFindings(out, r.apply(c))
	}
	return out
}

// RegistrationRules is the default rule set, in evaluation order.
func RegistrationRules() []Rule {
	return []Rule{
		{ID: "registration-fields", Apply: checkFields},
		{ID: "cid-binding", Apply: checkBinding},
		{ID: "collisions", Apply: checkCollisions},
		{ID: "message-hash", Apply: checkMessageHash},
		{ID: "signatures", Apply: checkSignatures},
	}
}

var requiredFields = []string{"type", "cid_version", "cid_hash", "statement", "public_keys", "requested_at"}

func checkFields(c *Check) error {
	var errs []error
	for _, f := range requiredFields {
		if v, ok := c.Fields[f]; !ok || v == nil {
			errs = append(errs, model.Errorf(model.KindStructural, "COV-STR-001", "missing required field: %s", f).WithSubject(f))
		}
	}
	if pk, ok := c.Fields["public_keys"].(map[string]any); ok {
		for _, k := range []string{keys.KeyIDMLDSA65, keys.KeyIDEd25519} {
			s, _ := pk[k].(string)
			switch {
			case s == "":
				errs = append(errs, model.Errorf(model.KindStructural, "COV-STR-001", "missing required field: public_keys.%s", k).WithSubject("public_keys."+k))
			case !keys.CanonicalBase64(s):
				errs = append(errs, model.Errorf(model.KindStructural, "COV-STR-002", "public_keys.%s must be padded standard base64", k).WithSubject("public_keys."+k))
			}
		}
	}
	if !c.typed {
		errs = append(errs, model.NewError(model.KindStructural, "COV-STR-007", "registration fields have the wrong types"))
		return errors.Join(errs...)
	}
	if t, ok := c.Fields["type"]; ok && t != identity.RegistrationType {
		errs = append(errs, model.Errorf(model.KindStructural, "COV-STR-007", "registration type must be %q", identity.RegistrationType).WithSubject("type"))
	}
	if _, ok := c.Fields["cid_version"]; ok && c.Statement.CIDVersion != identity.CIDVersion {
		errs = append(errs, model.Errorf(model.KindStructural, "COV-STR-006", "unsupported cid_version %d", c.Statement.CIDVersion).WithSubject("cid_version"))
	}
	return errors.Join(errs...)
}

func hasKeys(c *Check) bool {
	return c.typed && c.Statement.PublicKeys.MLDSA65 != "" && c.Statement.PublicKeys.Ed25519 != ""
}

func checkBinding(c *Check) error {
	cid := c.Statement.CIDHash
	if !c.typed || cid == "" {
		return nil
	}
	if !identity.ValidCIDHash(cid) {
		return model.NewError(model.KindStructural, "COV-STR-003", "cid_hash must be 64 lowercase hex characters").WithSubject("cid_hash")
	}
	if !hasKeys(c) {
		return nil
	}
	derived, err := identity.CIDHashFromKeys(c.Statement.PublicKeys)
	if err != nil {
		return err
	}
	if derived != cid {
		return model.Errorf(model.KindStructural, "COV-STR-004", "cid_hash %s does not match the public keys", cid[:16]).WithSubject("cid_hash")
	}
	return nil
}

func checkCollisions(c *Check) error {
	if c.Ledger == nil || !c.typed {
		return nil
	}
	var errs []error
	st := c.Statement
	for _, e := range c.Ledger.Entries {
		if st.CIDHash != "" && e.CIDHash == st.CIDHash {
			errs = append(errs, model.Errorf(model.KindDuplicateIdentity, "COV-DUP-001", "cid already registered: %s", e.Short()).WithSubject(st.CIDHash))
		}
		if st.PublicKeys.MLDSA65 != "" && keys.SameKey(e.PublicKeys.MLDSA65, st.PublicKeys.MLDSA65) {
			errs = append(errs, model.Errorf(model.KindDuplicateIdentity, "COV-DUP-002",
				"ML-DSA-65 public key already registered under %s", e.Short()).WithSubject(keys.KeyIDMLDSA65))
		}
		if st.PublicKeys.Ed25519 != "" && keys.SameKey(e.PublicKeys.Ed25519, st.PublicKeys.Ed25519) {
			errs = append(errs, model.Errorf(model.KindDuplicateIdentity, "COV-DUP-002",
				"Ed25519 public key already registered under %s", e.Short()).WithSubject(keys.KeyIDEd25519))
		}
	}
	return errors.Join(errs...)
}

func checkMessageHash(c *Check) error {
	got := c.Request.Signatures.MessageHash
	if got == "" {
		return model.NewError(model.KindStructural, "COV-STR-001", "missing required field: signatures.message_hash").WithSubject("signatures.message_hash")
	}
	if got != keys.MessageHash(c.Payload) {
		return model.NewError(model.KindStructural, "COV-STR-005", "message_hash does not match the registration").WithSubject("signatures.message_hash")
	}
	return nil
}

func checkSignatures(c *Check) error {
	if !hasKeys(c) {
		// Reported by checkFields; there is nothing to verify against.
		return nil
	}
	v := c.Dual.Verify(c.Payload, c.Request.Signatures, c.Statement.PublicKeys)
	return v.Err()
}
