package identity

import "emergentminds.org/covenant/keys"

// SignedMessage is a free-form message signed by an identity.
type SignedMessage struct {
	Message    string      `json:"message"`
	Signatures keys.Bundle `json:"signatures"`
	SignerCID  string      `json:"signer_cid"`
}

// SignMessage dual-signs the UTF-8 bytes of message.
func SignMessage(d *keys.Dual, signerCID string, sk keys.SecretKeys, message string) (*SignedMessage, error) {
	b, err := d.Sign([]byte(message), sk)
	if err != nil {
		return nil, err
	}
	return &SignedMessage{Message: message, Signatures: b, SignerCID: signerCID}, nil
}

// Verify checks m against pub. When override is non-nil it replaces the
// embedded message text.
func (m *SignedMessage) Verify(d *keys.Dual, pub PublicIdentity, override *string) keys.Verification {
	msg := m.Message
	if override != nil {
		msg = *override
	}
	return d.Verify([]byte(msg), m.Signatures, pub.PublicKeys)
}
