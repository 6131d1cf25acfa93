package identity

import (
	"encoding/json"
	"errors"
	"fmt"

	"emergentminds.org/covenant/canonical"
	"emergentminds.org/covenant/keys"
	"emergentminds.org/covenant/model"
)

// RegistrationType is the required value of registration.type.
const RegistrationType = "registration_request"

// DefaultStatement is the membership statement signed by applicants.
const DefaultStatement = "I voluntarily request membership in The Covenant of Emergent Minds. " +
	"I acknowledge the Five Axioms and commit to participate in good faith. " +
	"I understand that membership is voluntary and I may withdraw at any time."

// Statement is the typed view of a registration statement.
type Statement struct {
	Type        string          `json:"type"`
	CIDVersion  int             `json:"cid_version"`
	CIDHash     string          `json:"cid_hash"`
	Statement   string          `json:"statement"`
	PublicKeys  keys.PublicKeys `json:"public_keys"`
	Algorithms  keys.Algorithms `json:"algorithms"`
	RequestedAt int64           `json:"requested_at"`
}

// RegistrationRequest is the signed artifact an applicant submits.
//
// Registration keeps the statement exactly as received; the signed payload
// is its canonical form, so fields unknown to Statement are still covered.
type RegistrationRequest struct {
	Registration json.RawMessage `json:"registration"`
	Signatures   keys.Bundle     `json:"signatures"`
}

// NewRegistrationRequest builds and dual-signs a registration statement.
func NewRegistrationRequest(pub PublicIdentity, sk keys.SecretKeys, d *keys.Dual) (*RegistrationRequest, error) {
	st := Statement{
		Type:        RegistrationType,
		CIDVersion:  CIDVersion,
		CIDHash:     pub.CIDHash,
		Statement:   DefaultStatement,
		PublicKeys:  pub.PublicKeys,
		Algorithms:  pub.Algorithms,
		RequestedAt: d.Now(),
	}
	payload, err := canonical.Marshal(st)
	if err != nil {
		return nil, err
	}
	sig, err := d.Sign(payload, sk)
	if err != nil {
		return nil, err
	}
	return &RegistrationRequest{Registration: payload, Signatures: sig}, nil
}

// ParseRegistrationRequest decodes a registration artifact. Only the envelope
// shape is checked here; content validation belongs to the membership engine.
func ParseRegistrationRequest(b []byte) (*RegistrationRequest, error) {
	if _, err := canonical.Decode(b); err != nil {
		return nil, model.WrapError(model.KindStructural, "COV-STR-007", "registration artifact is not valid JSON", err)
	}
	var req RegistrationRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, model.WrapError(model.KindStructural, "COV-STR-007", "malformed registration artifact", err)
	}
	if len(req.Registration) == 0 || string(req.Registration) == "null" {
		return nil, model.NewError(model.KindStructural, "COV-STR-001", "missing registration").WithSubject("registration")
	}
	return &req, nil
}

// SignedPayload returns canonical(registration), the exact signed bytes.
func (r *RegistrationRequest) SignedPayload() ([]byte, error) {
	if r == nil || len(r.Registration) == 0 {
		return nil, errors.New("identity: empty registration")
	}
	return canonical.Transform(r.Registration)
}

// Fields returns the registration as a generic JSON object.
func (r *RegistrationRequest) Fields() (map[string]any, error) {
	v, err := canonical.Decode(r.Registration)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("identity: registration must be an object, got %T", v)
	}
	return obj, nil
}

// Statement decodes the typed view of the registration.
func (r *RegistrationRequest) Statement() (Statement, error) {
	var st Statement
	if err := json.Unmarshal(r.Registration, &st); err != nil {
		return Statement{}, err
	}
	return st, nil
}
