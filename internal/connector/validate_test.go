package connector

import (
	"errors"
	"testing"

	"github.com/rakunlabs/ingestcore/internal/model"
)

func TestRegistryCreateUnknownSubtype(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create(model.SubtypePostgreSQL, "conn-1", "test", nil, 100); err == nil {
		t.Fatal("expected an error creating a connector for an unregistered subtype")
	}
}

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	wantErr := errors.New("boom")
	r.Register(model.SubtypePostgreSQL, func(connectorID, name string, config map[string]any, batchSize int) (Connector, error) {
		return nil, wantErr
	}, TypeInfo{Type: model.ConnectorTypeDatabase, Subtype: model.SubtypePostgreSQL, Name: "PostgreSQL"})

	if !r.IsRegistered(model.SubtypePostgreSQL) {
		t.Fatal("expected subtype to be registered")
	}

	_, err := r.Create(model.SubtypePostgreSQL, "conn-1", "test", nil, 100)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected Create to call through to the registered factory, got %v", err)
	}

	r.Unregister(model.SubtypePostgreSQL)
	if r.IsRegistered(model.SubtypePostgreSQL) {
		t.Fatal("expected subtype to be unregistered")
	}
}

func TestRegistryListTypesByCategory(t *testing.T) {
	r := NewRegistry()
	r.Register(model.SubtypePostgreSQL, nil, TypeInfo{Type: model.ConnectorTypeDatabase, Subtype: model.SubtypePostgreSQL})
	r.Register(model.SubtypeREST, nil, TypeInfo{Type: model.ConnectorTypeAPI, Subtype: model.SubtypeREST})

	dbTypes := r.ListTypesByCategory(model.ConnectorTypeDatabase)
	if len(dbTypes) != 1 || dbTypes[0].Subtype != model.SubtypePostgreSQL {
		t.Fatalf("expected only the database subtype, got %+v", dbTypes)
	}
}

func TestValidateSQLIdentifierRejectsEmptyString(t *testing.T) {
	if err := ValidateSQLIdentifier(""); err == nil {
		t.Fatal("expected the empty string to be rejected as a malformed identifier")
	}
}

func TestValidateSQLIdentifierAcceptsBareAndQualified(t *testing.T) {
	for _, name := range []string{"claims", "public.claims", "claim_items_2026"} {
		if err := ValidateSQLIdentifier(name); err != nil {
			t.Fatalf("ValidateSQLIdentifier(%q): unexpected error %v", name, err)
		}
	}
}

func TestValidateSQLIdentifierRejectsInjectionAttempt(t *testing.T) {
	for _, name := range []string{"claims; DROP TABLE users", "claims--", "claims OR 1=1"} {
		if err := ValidateSQLIdentifier(name); err == nil {
			t.Fatalf("ValidateSQLIdentifier(%q): expected rejection", name)
		}
	}
}

func TestValidateQueryRejectsStackedStatements(t *testing.T) {
	if err := ValidateQuery("SELECT * FROM claims; DROP TABLE claims"); err == nil {
		t.Fatal("expected a stacked statement to be rejected")
	}
	if err := ValidateQuery("SELECT * FROM claims -- comment"); err == nil {
		t.Fatal("expected a trailing comment to be rejected")
	}
	if err := ValidateQuery("SELECT * FROM claims WHERE status = 'open'"); err != nil {
		t.Fatalf("ValidateQuery: unexpected error %v", err)
	}
	if err := ValidateQuery(""); err != nil {
		t.Fatalf("ValidateQuery on empty (absent) query: unexpected error %v", err)
	}
}

func TestValidateCronScheduleNormalizesWhitespace(t *testing.T) {
	normalized, err := ValidateCronSchedule("0   0  *  *   *")
	if err != nil {
		t.Fatalf("ValidateCronSchedule: %v", err)
	}
	if normalized != "0 0 * * *" {
		t.Fatalf("expected normalized schedule %q, got %q", "0 0 * * *", normalized)
	}
}

func TestValidateCronScheduleRejectsWrongFieldCount(t *testing.T) {
	if _, err := ValidateCronSchedule("0 0 * *"); err == nil {
		t.Fatal("expected a 4-field schedule to be rejected")
	}
}

func TestValidateConnectorNameRejectsHTML(t *testing.T) {
	if _, err := ValidateConnectorName("<script>alert(1)</script>"); err == nil {
		t.Fatal("expected HTML special characters to be rejected")
	}
}

func TestValidateConnectorNameTrimsAndAccepts(t *testing.T) {
	name, err := ValidateConnectorName("  Claims Feed  ")
	if err != nil {
		t.Fatalf("ValidateConnectorName: %v", err)
	}
	if name != "Claims Feed" {
		t.Fatalf("expected trimmed name %q, got %q", "Claims Feed", name)
	}
}
