package healthcare

import "regexp"

var (
	cptPattern   = regexp.MustCompile(`^\d{5}$`)
	hcpcsPattern = regexp.MustCompile(`^[A-Z]\d{4}$`)
)

// ValidCPT reports whether code matches the CPT procedure code shape: five
// digits.
func ValidCPT(code string) bool {
	return cptPattern.MatchString(code)
}

// ValidHCPCS reports whether code matches the HCPCS Level II code shape: one
// uppercase letter followed by four digits.
func ValidHCPCS(code string) bool {
	return hcpcsPattern.MatchString(code)
}

// ValidProcedureCode reports whether code is a well-formed CPT or HCPCS
// procedure code, the two systems this module's canonical schema accepts
// in its procedure_code field.
func ValidProcedureCode(code string) bool {
	return ValidCPT(code) || ValidHCPCS(code)
}

// taxonomyPattern matches the NUCC health care provider taxonomy code
// shape: 10 digits followed by an uppercase X.
var taxonomyPattern = regexp.MustCompile(`^\d{10}X$`)

// ValidTaxonomyCode reports whether code is a well-formed NUCC taxonomy
// code.
func ValidTaxonomyCode(code string) bool {
	return taxonomyPattern.MatchString(code)
}
