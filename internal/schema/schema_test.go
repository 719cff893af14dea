package schema

import "testing"

func TestResolveAliasCaseInsensitive(t *testing.T) {
	s := New()

	cases := []struct {
		alias string
		want  string
	}{
		{"DateOfService", "visit_start_date"},
		{"dateofservice", "visit_start_date"},
		{"MemberID", "person_id"},
		{"cpt_code", "procedure_source_value"},
		{"NPI", "npi"},
		{"claim_id", "visit_occurrence_id"},
	}

	for _, c := range cases {
		got, ok := s.ResolveAlias(c.alias)
		if !ok {
			t.Fatalf("ResolveAlias(%q): expected a match", c.alias)
		}
		if got != c.want {
			t.Fatalf("ResolveAlias(%q) = %q, want %q", c.alias, got, c.want)
		}
	}
}

func TestResolveAliasMissing(t *testing.T) {
	s := New()
	if _, ok := s.ResolveAlias("totally_unknown_field"); ok {
		t.Fatal("expected no match for an unknown field")
	}
}

func TestRequiredFields(t *testing.T) {
	s := New()
	required := s.RequiredFields()

	want := map[string]bool{
		"visit_occurrence_id":    true,
		"person_id":              true,
		"visit_start_date":       true,
		"procedure_source_value": true,
		"npi":                    true,
	}

	if len(required) != len(want) {
		t.Fatalf("got %d required fields, want %d: %v", len(required), len(want), required)
	}
	for _, name := range required {
		if !want[name] {
			t.Fatalf("unexpected required field %q", name)
		}
	}
}

func TestFieldLookup(t *testing.T) {
	s := New()

	f, ok := s.Field("total_charge")
	if !ok {
		t.Fatal("expected total_charge to be a known field")
	}
	if f.Type != TypeFloat {
		t.Fatalf("total_charge type = %q, want %q", f.Type, TypeFloat)
	}
	if !contains(f.Aliases, "billed_amount") {
		t.Fatalf("total_charge aliases missing billed_amount: %v", f.Aliases)
	}

	if _, ok := s.Field("not_a_real_field"); ok {
		t.Fatal("expected lookup of an unknown field to fail")
	}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
