package compliance

import "testing"

func TestParse(t *testing.T) {
	for in, want := range map[string]ComplianceMode{"": Permissive, "permissive": Permissive, "strict": Strict} {
		got, err := Parse(in)
		if err != nil || got != want {
			t.Fatalf("Parse(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := Parse("lenient"); err == nil {
		t.Fatalf("expected error")
	}
	if Strict.String() != "strict" {
		t.Fatalf("String() = %q", Strict.String())
	}
}
