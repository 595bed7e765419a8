package dedupkey

import "testing"

func TestDeriveNormalizesFields(t *testing.T) {
	t.Parallel()

	first := Derive("  A@B.com ", "555 ")
	second := Derive("a@b.com", " 555")
	if first != second {
		t.Fatalf("expected identical keys, got %q and %q", first, second)
	}
	if first != "a@b.com::555" {
		t.Fatalf("unexpected key %q", first)
	}
}

func TestDeriveEmptyFieldsYieldsNone(t *testing.T) {
	t.Parallel()

	key := Derive("   ", "")
	if key != None {
		t.Fatalf("expected None, got %q", key)
	}
	if key.Dedupable() {
		t.Fatalf("expected None to be non-dedupable")
	}
}

func TestDeriveSingleFieldStillDedupable(t *testing.T) {
	t.Parallel()

	key := Derive("", "555-0100")
	if !key.Dedupable() {
		t.Fatalf("expected key with one field to be dedupable")
	}
	if key != "::555-0100" {
		t.Fatalf("unexpected key %q", key)
	}
}

func TestFromFieldsIgnoresUnsupportedValues(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"email":   "Owner@Example.COM",
		"phone":   []string{"ignored"},
		"company": "Acme",
	}
	if got := FromFields(payload, "email", "phone"); got != "owner@example.com::" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := FromFields(nil, "email", "phone"); got != None {
		t.Fatalf("expected None for nil payload, got %q", got)
	}
	if got := FromFields(map[string]any{"phone": float64(5550100)}, "email", "phone"); got != "::5550100" {
		t.Fatalf("unexpected numeric key %q", got)
	}
}
