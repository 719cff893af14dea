package mapping

import (
	"context"
	"testing"

	"github.com/rakunlabs/ingestcore/internal/schema"
)

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	m, err := New(schema.New(), nil, 0, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestMappingViaAlias(t *testing.T) {
	m := newTestMapper(t)

	raw := map[string]any{
		"claim_id":     "C-1",
		"MemberID":     "M-1",
		"DateOfService": "2026-01-02",
		"cpt_code":     "99213",
		"ProviderNPI":  "1234567893",
		"BilledAmount": 125.50,
	}

	result, err := m.Transform(context.Background(), raw, Options{})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	want := map[string]any{
		"visit_occurrence_id":    "C-1",
		"person_id":              "M-1",
		"visit_start_date":       "2026-01-02",
		"procedure_source_value": "99213",
		"npi":                    "1234567893",
		"total_charge":           125.50,
	}
	for field, expected := range want {
		if got := result.Normalized[field]; got != expected {
			t.Fatalf("Normalized[%q] = %v, want %v", field, got, expected)
		}
	}

	provider, ok := result.Normalized["provider"].(map[string]any)
	if !ok || provider["npi"] != "1234567893" {
		t.Fatalf("expected provider group to carry npi, got %v", result.Normalized["provider"])
	}
}

func TestTransformCustomMappingTakesPriority(t *testing.T) {
	m, err := New(schema.New(), nil, 0, nil, map[string]string{"PatientRef": "person_id"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := m.Transform(context.Background(), map[string]any{"PatientRef": "X-9"}, Options{})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if result.Normalized["person_id"] != "X-9" {
		t.Fatalf("expected custom mapping to resolve PatientRef, got %v", result.Normalized)
	}
}

func TestTransformTracksUnmappedFields(t *testing.T) {
	m := newTestMapper(t)

	result, err := m.Transform(context.Background(), map[string]any{"totally_unknown_column": "x"}, Options{})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(result.Unmapped) != 1 || result.Unmapped[0] != "totally_unknown_column" {
		t.Fatalf("expected one unmapped field, got %v", result.Unmapped)
	}
}

func TestTransformFlattensItems(t *testing.T) {
	m := newTestMapper(t)

	raw := map[string]any{
		"claim_id": "C-1",
		"items": []any{
			map[string]any{"cpt_code": "99213", "units": 2},
			map[string]any{"diagnosis_code": "E11.9"},
		},
	}

	result, err := m.Transform(context.Background(), raw, Options{})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	items, ok := result.Normalized["items"].([]map[string]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 normalized items, got %v", result.Normalized["items"])
	}
	if items[0]["procedure_source_value"] != "99213" || items[0]["quantity"] != 2 {
		t.Fatalf("unexpected first item: %v", items[0])
	}
	if items[1]["condition_source_value"] != "E11.9" {
		t.Fatalf("unexpected second item: %v", items[1])
	}
}
