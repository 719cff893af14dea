// Package schema holds the canonical claims data model: the target fields a
// connector's output is mapped onto, their aliases, types, and which ones are
// required. It is a static, declarative catalog built once at startup and
// read many times concurrently, so lookups never touch a lock.
package schema

import "strings"

// FieldType is the value type a canonical field holds once mapped.
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeInt        FieldType = "int"
	TypeFloat      FieldType = "float"
	TypeDate       FieldType = "date"
	TypeStringList FieldType = "list[string]"
)

// Field describes one canonical field: its name, type, whether a mapping run
// must resolve it, and the alternate source-field spellings known to refer
// to it.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Aliases     []string
	Description string
}

// Schema is the precomputed canonical catalog: field definitions plus a
// reverse alias→canonical lookup table, built once and never mutated.
type Schema struct {
	fields        map[string]Field
	aliasLookup   map[string]string // lowercase alias -> canonical name
	requiredNames []string
}

// New builds the canonical claims schema and precomputes its alias lookup
// table and required-field list.
func New() *Schema {
	fields := claimsFields()

	s := &Schema{
		fields:      fields,
		aliasLookup: make(map[string]string, len(fields)*3),
	}

	for name, f := range fields {
		s.aliasLookup[strings.ToLower(name)] = name
		for _, alias := range f.Aliases {
			s.aliasLookup[strings.ToLower(alias)] = name
		}
		if f.Required {
			s.requiredNames = append(s.requiredNames, name)
		}
	}

	return s
}

// ResolveAlias resolves a source field name (case-insensitive) to its
// canonical field name. The second return is false when name is not a known
// canonical name or alias.
func (s *Schema) ResolveAlias(name string) (string, bool) {
	canonical, ok := s.aliasLookup[strings.ToLower(name)]
	return canonical, ok
}

// RequiredFields returns the canonical names that must be resolved for a
// mapping to be considered complete.
func (s *Schema) RequiredFields() []string {
	out := make([]string, len(s.requiredNames))
	copy(out, s.requiredNames)
	return out
}

// Field returns the definition for a canonical field name. The second
// return is false when name is not a canonical field.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns every canonical field definition, unordered.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f)
	}
	return out
}

// claimsFields is the claims-relevant subset of the OMOP CDM, organized by
// the OMOP table each field originates from. Descriptions are kept short:
// the field mapper encodes them as part of its embedding input.
func claimsFields() map[string]Field {
	fields := make(map[string]Field)

	add := func(group map[string]Field) {
		for k, v := range group {
			fields[k] = v
		}
	}

	add(visitOccurrenceFields())
	add(procedureOccurrenceFields())
	add(conditionOccurrenceFields())
	add(providerFields())
	add(costFields())
	add(payerPlanFields())
	add(personFields())

	return fields
}

func visitOccurrenceFields() map[string]Field {
	return map[string]Field{
		"visit_occurrence_id": {
			Name: "visit_occurrence_id", Type: TypeString, Required: true,
			Aliases:     []string{"claim_id", "encounter_id", "visit_id"},
			Description: "Unique identifier for each visit/claim",
		},
		"person_id": {
			Name: "person_id", Type: TypeString, Required: true,
			Aliases: []string{
				"member_id", "patient_id", "subscriber_id", "patient_control_number",
				"MemberID", "PatientID",
			},
			Description: "Unique identifier for the patient/member",
		},
		"visit_start_date": {
			Name: "visit_start_date", Type: TypeDate, Required: true,
			Aliases: []string{
				"service_date", "date_of_service", "dos", "statement_from_date",
				"ServiceDate", "DateOfService",
			},
			Description: "Start date of the visit/service",
		},
		"visit_end_date": {
			Name:        "visit_end_date",
			Type:        TypeDate,
			Aliases:     []string{"service_end_date", "statement_to_date", "discharge_date"},
			Description: "End date of the visit/service",
		},
		"visit_type_concept_id": {
			Name:        "visit_type_concept_id",
			Type:        TypeInt,
			Description: "Type of visit (inpatient, outpatient, etc.)",
		},
		"care_site_id": {
			Name:        "care_site_id",
			Type:        TypeString,
			Aliases:     []string{"facility_id", "service_facility_npi", "facility_npi"},
			Description: "Care site where service was rendered",
		},
		"visit_source_value": {
			Name:        "visit_source_value",
			Type:        TypeString,
			Aliases:     []string{"claim_type", "claim_form_type", "bill_type"},
			Description: "Source value for visit type",
		},
	}
}

func procedureOccurrenceFields() map[string]Field {
	return map[string]Field{
		"procedure_occurrence_id": {
			Name:        "procedure_occurrence_id",
			Type:        TypeString,
			Aliases:     []string{"line_id", "service_line_id", "claim_line_number"},
			Description: "Unique identifier for procedure line",
		},
		"procedure_concept_id": {
			Name:        "procedure_concept_id",
			Type:        TypeInt,
			Description: "OMOP standard concept ID for procedure",
		},
		"procedure_source_value": {
			Name: "procedure_source_value", Type: TypeString, Required: true,
			Aliases: []string{
				"procedure_code", "cpt_code", "hcpcs_code", "service_code",
				"CPTCode", "HCPCS", "ProcedureCode",
			},
			Description: "Source procedure code (CPT/HCPCS)",
		},
		"procedure_date": {
			Name:        "procedure_date",
			Type:        TypeDate,
			Aliases:     []string{"line_service_date", "service_from_date"},
			Description: "Date procedure was performed",
		},
		"quantity": {
			Name:        "quantity",
			Type:        TypeInt,
			Aliases:     []string{"units", "service_units", "qty", "unit_count"},
			Description: "Number of units/services",
		},
		"modifier_source_value": {
			Name:        "modifier_source_value",
			Type:        TypeString,
			Aliases:     []string{"modifier", "modifier_1", "modifier1", "mod1"},
			Description: "Procedure modifier code",
		},
		"modifier_2": {
			Name:        "modifier_2",
			Type:        TypeString,
			Aliases:     []string{"modifier2", "mod2"},
			Description: "Second procedure modifier",
		},
		"modifier_3": {
			Name:        "modifier_3",
			Type:        TypeString,
			Aliases:     []string{"modifier3", "mod3"},
			Description: "Third procedure modifier",
		},
		"modifier_4": {
			Name:        "modifier_4",
			Type:        TypeString,
			Aliases:     []string{"modifier4", "mod4"},
			Description: "Fourth procedure modifier",
		},
	}
}

func conditionOccurrenceFields() map[string]Field {
	return map[string]Field{
		"condition_source_value": {
			Name: "condition_source_value", Type: TypeString,
			Aliases: []string{
				"diagnosis_code", "dx_code", "icd_code", "icd10_code",
				"DiagnosisCode", "principal_diagnosis",
			},
			Description: "Source diagnosis code (ICD-10)",
		},
		"condition_source_value_list": {
			Name:        "condition_source_value_list",
			Type:        TypeStringList,
			Aliases:     []string{"diagnosis_codes", "dx_codes", "icd_codes", "diagnoses"},
			Description: "List of diagnosis codes",
		},
	}
}

func providerFields() map[string]Field {
	return map[string]Field{
		"provider_id": {
			Name:        "provider_id",
			Type:        TypeString,
			Description: "Internal provider ID",
		},
		"npi": {
			Name: "npi", Type: TypeString, Required: true,
			Aliases: []string{
				"provider_npi", "rendering_npi", "billing_npi", "attending_npi",
				"rendering_provider_npi", "billing_provider_npi", "ProviderNPI", "NPI",
			},
			Description: "National Provider Identifier",
		},
		"specialty_source_value": {
			Name: "specialty_source_value", Type: TypeString,
			Aliases:     []string{"specialty", "provider_specialty", "specialty_code", "taxonomy_code"},
			Description: "Provider specialty/taxonomy",
		},
	}
}

func costFields() map[string]Field {
	return map[string]Field{
		"total_charge": {
			Name: "total_charge", Type: TypeFloat,
			Aliases: []string{
				"billed_amount", "charge_amount", "total_amount", "claim_amount",
				"BilledAmount", "ChargeAmount",
			},
			Description: "Total charged/billed amount",
		},
		"total_cost": {
			Name:        "total_cost",
			Type:        TypeFloat,
			Aliases:     []string{"allowed_amount", "paid_amount", "payment_amount"},
			Description: "Total cost/allowed amount",
		},
		"line_charge": {
			Name: "line_charge", Type: TypeFloat,
			Aliases:     []string{"line_amount", "line_charge_amount", "service_charge", "LineAmount"},
			Description: "Line-level charge amount",
		},
	}
}

func payerPlanFields() map[string]Field {
	return map[string]Field{
		"payer_plan_period_id": {
			Name:        "payer_plan_period_id",
			Type:        TypeString,
			Aliases:     []string{"plan_id", "coverage_id", "insurance_id"},
			Description: "Payer plan period identifier",
		},
		"payer_source_value": {
			Name:        "payer_source_value",
			Type:        TypeString,
			Aliases:     []string{"payer_id", "payer_name", "insurance_name"},
			Description: "Payer/insurance source value",
		},
	}
}

func personFields() map[string]Field {
	return map[string]Field{
		"year_of_birth": {
			Name:        "year_of_birth",
			Type:        TypeInt,
			Description: "Year of birth",
		},
		"birth_datetime": {
			Name:        "birth_datetime",
			Type:        TypeDate,
			Aliases:     []string{"dob", "date_of_birth", "birth_date", "DateOfBirth"},
			Description: "Date of birth",
		},
		"gender_source_value": {
			Name:        "gender_source_value",
			Type:        TypeString,
			Aliases:     []string{"gender", "sex", "member_gender"},
			Description: "Gender/sex",
		},
		"age": {
			Name:        "age",
			Type:        TypeInt,
			Aliases:     []string{"patient_age", "member_age"},
			Description: "Age at time of service",
		},
	}
}
