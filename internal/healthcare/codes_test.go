package healthcare

import "testing"

func TestValidCPT(t *testing.T) {
	if !ValidCPT("99213") {
		t.Fatalf("expected 99213 to be a valid CPT code")
	}
	if ValidCPT("9921") {
		t.Fatalf("expected a 4-digit code to be rejected")
	}
	if ValidCPT("A9213") {
		t.Fatalf("expected a letter-prefixed code to be rejected as CPT")
	}
}

func TestValidHCPCS(t *testing.T) {
	if !ValidHCPCS("J1885") {
		t.Fatalf("expected J1885 to be a valid HCPCS code")
	}
	if ValidHCPCS("99213") {
		t.Fatalf("expected a pure-digit code to be rejected as HCPCS")
	}
	if ValidHCPCS("J188") {
		t.Fatalf("expected a short code to be rejected")
	}
}

func TestValidProcedureCode(t *testing.T) {
	if !ValidProcedureCode("99213") || !ValidProcedureCode("J1885") {
		t.Fatalf("expected both CPT and HCPCS shapes to validate")
	}
	if ValidProcedureCode("bad-code") {
		t.Fatalf("expected malformed code to be rejected")
	}
}

func TestValidTaxonomyCode(t *testing.T) {
	if !ValidTaxonomyCode("1234567890X") {
		t.Fatalf("expected a 10-digit code with trailing X to validate")
	}
	if ValidTaxonomyCode("1234567890") {
		t.Fatalf("expected a code missing the trailing X to be rejected")
	}
}
