package mapping

import "testing"

func TestParseRerankResponsePlainJSON(t *testing.T) {
	result, err := parseRerankResponse(`{"target_field": "person_id", "confidence": 92, "reasoning": "matches member identifier"}`)
	if err != nil {
		t.Fatalf("parseRerankResponse: %v", err)
	}
	if result.TargetField != "person_id" || result.Confidence != 92 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestParseRerankResponseEmbeddedInProse(t *testing.T) {
	result, err := parseRerankResponse("Here is my answer:\n" + `{"target_field": "npi", "confidence": 70, "reasoning": "likely provider id"}` + "\nThanks.")
	if err != nil {
		t.Fatalf("parseRerankResponse: %v", err)
	}
	if result.TargetField != "npi" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestParseRerankResponseUnparseable(t *testing.T) {
	if _, err := parseRerankResponse("not json at all"); err == nil {
		t.Fatal("expected an error for unparseable response")
	}
}

func TestRerankResultNeedsReview(t *testing.T) {
	r := RerankResult{Confidence: 70}
	if !r.NeedsReview(AutoAcceptMin) {
		t.Fatal("70 should need review under an 85 auto-accept threshold")
	}
	if r.NeedsReview(50) {
		t.Fatal("70 should not need review under a 50 threshold")
	}
}
