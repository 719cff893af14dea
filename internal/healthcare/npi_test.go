package healthcare

import "testing"

func TestValidNPIRejectsWrongLength(t *testing.T) {
	if ValidNPI("123456789") {
		t.Fatalf("expected 9-digit NPI to be rejected")
	}
	if ValidNPI("12345678901") {
		t.Fatalf("expected 11-digit NPI to be rejected")
	}
}

func TestValidNPIRejectsNonDigits(t *testing.T) {
	if ValidNPI("12345abcde") {
		t.Fatalf("expected non-digit NPI to be rejected")
	}
}

func TestValidNPIChecksum(t *testing.T) {
	// 1982968830 satisfies the Luhn checksum against the 80840 prefix;
	// mutating its last digit must break the checksum.
	valid := "1982968830"
	if !ValidNPI(valid) {
		t.Fatalf("expected %s to pass the Luhn checksum", valid)
	}

	mutated := "1982968831"
	if ValidNPI(mutated) {
		t.Fatalf("expected %s to fail the Luhn checksum", mutated)
	}
}
