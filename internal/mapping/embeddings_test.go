package mapping

import (
	"testing"

	"github.com/rakunlabs/ingestcore/internal/schema"
)

func TestNormalizeFieldName(t *testing.T) {
	cases := map[string]string{
		"DateOfService": "date of service",
		"member_id":     "member id",
		"fld_npi":       "npi",
	}
	for in, want := range cases {
		if got := normalizeFieldName(in); got != want {
			t.Fatalf("normalizeFieldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSemanticMatcherFindsClosestCanonicalField(t *testing.T) {
	sch := schema.New()
	matcher, err := newSemanticMatcher(sch, newHashEmbedder(256), 10)
	if err != nil {
		t.Fatalf("newSemanticMatcher: %v", err)
	}

	candidates := matcher.findCandidates("date_of_service", 3, 0.0)
	if len(candidates) == 0 {
		t.Fatal("expected at least one candidate")
	}

	found := false
	for _, c := range candidates {
		if c.CanonicalField == "visit_start_date" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected visit_start_date among candidates, got %v", candidates)
	}
}

func TestSemanticMatcherCachesSourceVectors(t *testing.T) {
	sch := schema.New()
	matcher, err := newSemanticMatcher(sch, newHashEmbedder(256), 10)
	if err != nil {
		t.Fatalf("newSemanticMatcher: %v", err)
	}

	first := matcher.findCandidates("date_of_service", 3, 0.0)
	if _, ok := matcher.sourceVectorCache.Get("date_of_service"); !ok {
		t.Fatal("expected source vector to be cached after first lookup")
	}
	second := matcher.findCandidates("date_of_service", 3, 0.0)
	if len(first) != len(second) {
		t.Fatalf("expected cached lookup to return the same result set")
	}
}
