package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKindAndRuleID(t *testing.T) {
	sentinel := NewError(KindStateTransition, "LEDGER-STATE-001", "entry is not provisional")
	err := fmt.Errorf("promote: %w", sentinel.WithSubject("abcd"))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match by Kind and RuleID")
	}
	if errors.Is(err, NewError(KindStateTransition, "LEDGER-STATE-002", "other")) {
		t.Fatalf("different RuleID must not match")
	}
}

func TestKindsOf_WalksJoinedErrors(t *testing.T) {
	err := errors.Join(
		NewError(KindStructural, "REG-STR-001", "missing type"),
		fmt.Errorf("wrapped: %w", NewError(KindDuplicateIdentity, "REG-DUP-001", "cid exists")),
	)
	kinds := KindsOf(err)
	if len(kinds) != 2 || kinds[0] != KindStructural || kinds[1] != KindDuplicateIdentity {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
	if !IsKind(err, KindDuplicateIdentity) {
		t.Fatalf("expected IsKind to find joined error")
	}
	if IsKind(err, KindNotFound) {
		t.Fatalf("unexpected KindNotFound")
	}
}

func TestRuleID_Unstructured(t *testing.T) {
	if got := RuleID(errors.New("plain")); got != "" {
		t.Fatalf("expected empty RuleID, got %q", got)
	}
	if got := RuleID(WrapError(KindInternal, "INT-001", "boom", errors.New("cause"))); got != "INT-001" {
		t.Fatalf("unexpected RuleID %q", got)
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	e := WrapError(KindSignatureInvalid, "SIG-PQ-001", "ML-DSA-65 signature invalid", errors.New("verification failed"))
	if e.Error() != "ML-DSA-65 signature invalid: verification failed" {
		t.Fatalf("unexpected message: %q", e.Error())
	}
	if e.Index != NoIndex {
		t.Fatalf("expected NoIndex, got %d", e.Index)
	}
}
