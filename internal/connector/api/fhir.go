package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/model"
)

// FHIR implements an HL7 FHIR R4 connector: SMART-on-FHIR OAuth2, bundle
// pagination via the "next" relation link, and per-resource-type flattening
// of Claim, ExplanationOfBenefit, Coverage, Patient, Practitioner, and
// Organization resources into flat records.
type FHIR struct {
	*base
}

// NewFHIR builds an HL7 FHIR R4 connector.
func NewFHIR(connectorID, name string, config map[string]any, batchSize int) (connector.Connector, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	b := newBase(connectorID, name, config, batchSize)
	// FHIR servers get 5 req/s unless rate_limit is set explicitly.
	if b.configInt("rate_limit", 0) <= 0 {
		b.limiter.SetLimit(5)
	}
	return &FHIR{base: b}, nil
}

func (f *FHIR) TestConnection(ctx context.Context) (*connector.ConnectionTestResult, error) {
	result, err := f.base.TestConnection(ctx)
	if err != nil || !result.Success {
		return result, err
	}
	if result.Details == nil {
		result.Details = map[string]any{}
	}

	data, _, err := f.get(ctx, "/metadata", nil)
	if err != nil {
		result.Details["metadata_warning"] = truncate(err.Error(), 100)
		return result, nil
	}

	capability := gjson.ParseBytes(data)
	result.Details["fhir_version"] = capability.Get("fhirVersion").String()
	result.Details["software"] = capability.Get("software.name").String()

	resourceTypes := capability.Get("rest.0.resource.#.type").Array()
	types := make([]string, 0, len(resourceTypes))
	for _, rt := range resourceTypes {
		types = append(types, rt.String())
	}
	sample := types
	if len(sample) > 10 {
		sample = sample[:10]
	}
	result.Details["resource_types"] = sample
	result.Details["total_resource_types"] = len(types)
	return result, nil
}

func (f *FHIR) Extract(ctx context.Context, syncMode model.SyncMode, watermarkValue string) (<-chan connector.Batch, func() error) {
	out := make(chan connector.Batch)
	var extractErr error

	go func() {
		defer close(out)

		if !f.IsConnected() {
			if err := f.Connect(ctx); err != nil {
				extractErr = err
				return
			}
		}

		resourceTypes := f.resourceTypes()
		total := 0

		for _, resourceType := range resourceTypes {
			err := f.extractResource(ctx, resourceType, syncMode, watermarkValue, func(records connector.Batch) bool {
				select {
				case out <- records:
					total += len(records)
					return true
				case <-ctx.Done():
					extractErr = ctx.Err()
					return false
				}
			})
			if err != nil {
				extractErr = err
				return
			}
			if extractErr != nil {
				return
			}
		}
	}()

	return out, func() error { return extractErr }
}

func (f *FHIR) resourceTypes() []string {
	switch v := f.Config["resource_types"].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return []string{"Claim"}
}

func (f *FHIR) extractResource(ctx context.Context, resourceType string, syncMode model.SyncMode, watermarkValue string, emit func(connector.Batch) bool) error {
	params := url.Values{
		"_count":  {strconv.Itoa(f.BatchSize)},
		"_format": {"json"},
	}
	if include, ok := f.Config["include_params"].([]any); ok {
		for _, v := range include {
			if s, ok := v.(string); ok {
				params.Add("_include", s)
			}
		}
	}
	if search, ok := f.Config["search_params"].(map[string]any); ok {
		for k, v := range search {
			params.Set(k, fmt.Sprint(v))
		}
	}
	if syncMode == model.SyncModeIncremental && watermarkValue != "" {
		params.Set("_lastUpdated", "ge"+watermarkValue)
	}

	endpoint := "/" + resourceType
	next := endpoint
	first := true

	for next != "" {
		var p url.Values
		if first {
			p = params
		}
		first = false

		data, _, err := f.get(ctx, next, p)
		if err != nil {
			return err
		}

		bundle := gjson.ParseBytes(data)
		entries := bundle.Get("entry").Array()
		if len(entries) == 0 {
			return nil
		}

		records := make(connector.Batch, 0, len(entries))
		for _, entry := range entries {
			resource := entry.Get("resource")
			if resource.Exists() {
				records = append(records, flattenResource(resource))
			}
		}
		if len(records) > 0 {
			if !emit(records) {
				return nil
			}
		}

		next = nextBundleLink(bundle, f.configString("base_url", ""))
	}
	return nil
}

func nextBundleLink(bundle gjson.Result, baseURL string) string {
	for _, link := range bundle.Get("link").Array() {
		if link.Get("relation").String() == "next" {
			u := link.Get("url").String()
			if u == "" {
				return ""
			}
			if baseURL != "" && strings.HasPrefix(u, baseURL) {
				return u[len(baseURL):]
			}
			return u
		}
	}
	return ""
}

func flattenResource(resource gjson.Result) map[string]any {
	resourceType := resource.Get("resourceType").String()
	flat := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resource.Get("id").String(),
		"last_updated":  resource.Get("meta.lastUpdated").String(),
	}

	switch resourceType {
	case "Claim":
		mergeInto(flat, flattenClaim(resource))
	case "ExplanationOfBenefit":
		mergeInto(flat, flattenEOB(resource))
	case "Coverage":
		mergeInto(flat, flattenCoverage(resource))
	case "Patient":
		mergeInto(flat, flattenPatient(resource))
	case "Practitioner":
		mergeInto(flat, flattenPractitioner(resource))
	case "Organization":
		mergeInto(flat, flattenOrganization(resource))
	default:
		mergeInto(flat, flattenGeneric(resource))
	}
	return flat
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func flattenClaim(claim gjson.Result) map[string]any {
	diagnoses := claim.Get("diagnosis").Array()
	diagCodes := make([]any, 0, len(diagnoses))
	for _, d := range diagnoses {
		diagCodes = append(diagCodes, codeableConcept(d.Get("diagnosisCodeableConcept")))
	}
	procedures := claim.Get("procedure").Array()
	procCodes := make([]any, 0, len(procedures))
	for _, p := range procedures {
		procCodes = append(procCodes, codeableConcept(p.Get("procedureCodeableConcept")))
	}
	items := claim.Get("item").Array()
	flatItems := make([]any, 0, len(items))
	for _, it := range items {
		flatItems = append(flatItems, flattenClaimItem(it))
	}

	flat := map[string]any{
		"status":             nullableString(claim.Get("status")),
		"use":                nullableString(claim.Get("use")),
		"type_code":          codeableConcept(claim.Get("type")),
		"patient_reference":  reference(claim.Get("patient")),
		"created":            nullableString(claim.Get("created")),
		"provider_reference": reference(claim.Get("provider")),
		"priority_code":      codeableConcept(claim.Get("priority")),
		"total_value":        money(claim.Get("total")),
		"billable_start":     nullableString(claim.Get("billablePeriod.start")),
		"billable_end":       nullableString(claim.Get("billablePeriod.end")),
		"diagnosis_codes":    diagCodes,
		"procedure_codes":    procCodes,
		"items":              flatItems,
		"item_count":         len(items),
	}
	if insurances := claim.Get("insurance").Array(); len(insurances) > 0 {
		flat["insurance_reference"] = reference(insurances[0].Get("coverage"))
	}
	return flat
}

func flattenClaimItem(item gjson.Result) map[string]any {
	modifiers := item.Get("modifier").Array()
	modCodes := make([]any, 0, len(modifiers))
	for _, m := range modifiers {
		modCodes = append(modCodes, codeableConcept(m))
	}
	return map[string]any{
		"sequence":      item.Get("sequence").Value(),
		"service_code":  codeableConcept(item.Get("productOrService")),
		"modifier_codes": modCodes,
		"quantity":      item.Get("quantity.value").Value(),
		"unit_price":    money(item.Get("unitPrice")),
		"net":           money(item.Get("net")),
		"service_date":  nullableString(item.Get("servicedDate")),
		"location_code": codeableConcept(item.Get("locationCodeableConcept")),
	}
}

func flattenEOB(eob gjson.Result) map[string]any {
	flat := map[string]any{
		"status":             nullableString(eob.Get("status")),
		"use":                nullableString(eob.Get("use")),
		"outcome":            nullableString(eob.Get("outcome")),
		"type_code":          codeableConcept(eob.Get("type")),
		"patient_reference":  reference(eob.Get("patient")),
		"created":            nullableString(eob.Get("created")),
		"provider_reference": reference(eob.Get("provider")),
		"claim_reference":    reference(eob.Get("claim")),
		"billable_start":     nullableString(eob.Get("billablePeriod.start")),
		"billable_end":       nullableString(eob.Get("billablePeriod.end")),
		"payment_amount":     money(eob.Get("payment.amount")),
		"payment_date":       nullableString(eob.Get("payment.date")),
		"item_count":         len(eob.Get("item").Array()),
	}
	for _, total := range eob.Get("total").Array() {
		category, _ := codeableConcept(total.Get("category")).(string)
		if category == "" {
			continue
		}
		key := "total_" + strings.ReplaceAll(strings.ToLower(category), " ", "_")
		flat[key] = money(total.Get("amount"))
	}
	return flat
}

func flattenCoverage(coverage gjson.Result) map[string]any {
	var payorRef any
	if payors := coverage.Get("payor").Array(); len(payors) > 0 {
		payorRef = reference(payors[0])
	}
	return map[string]any{
		"status":                nullableString(coverage.Get("status")),
		"type_code":             codeableConcept(coverage.Get("type")),
		"subscriber_reference":  reference(coverage.Get("subscriber")),
		"beneficiary_reference": reference(coverage.Get("beneficiary")),
		"payor_reference":       payorRef,
		"period_start":          nullableString(coverage.Get("period.start")),
		"period_end":            nullableString(coverage.Get("period.end")),
		"subscriber_id":         nullableString(coverage.Get("subscriberId")),
		"dependent":             nullableString(coverage.Get("dependent")),
		"relationship_code":     codeableConcept(coverage.Get("relationship")),
	}
}

func flattenPatient(patient gjson.Result) map[string]any {
	identifiers := patient.Get("identifier").Array()
	var primaryID, idSystem any
	if len(identifiers) > 0 {
		primaryID = nullableString(identifiers[0].Get("value"))
		idSystem = nullableString(identifiers[0].Get("system"))
	}

	family, given := primaryName(patient.Get("name"))

	return map[string]any{
		"identifier":        primaryID,
		"identifier_system": idSystem,
		"family_name":       family,
		"given_name":        given,
		"birth_date":        nullableString(patient.Get("birthDate")),
		"gender":            nullableString(patient.Get("gender")),
		"active":            patient.Get("active").Value(),
		"deceased":          patient.Get("deceasedBoolean").Bool(),
	}
}

func flattenPractitioner(practitioner gjson.Result) map[string]any {
	family, given := primaryName(practitioner.Get("name"))
	return map[string]any{
		"npi":         findNPI(practitioner.Get("identifier")),
		"family_name": family,
		"given_name":  given,
		"active":      practitioner.Get("active").Value(),
		"gender":      nullableString(practitioner.Get("gender")),
	}
}

func flattenOrganization(org gjson.Result) map[string]any {
	var typeCode any
	if types := org.Get("type").Array(); len(types) > 0 {
		typeCode = codeableConcept(types[0])
	}
	return map[string]any{
		"npi":       findNPI(org.Get("identifier")),
		"name":      nullableString(org.Get("name")),
		"type_code": typeCode,
		"active":    org.Get("active").Value(),
	}
}

func flattenGeneric(resource gjson.Result) map[string]any {
	flat := map[string]any{}
	for _, key := range []string{"status", "active", "name", "identifier"} {
		field := resource.Get(key)
		if !field.Exists() {
			continue
		}
		if field.IsArray() {
			arr := field.Array()
			if len(arr) > 0 {
				flat[key] = arr[0].String()
			} else {
				flat[key] = nil
			}
		} else {
			flat[key] = field.Value()
		}
	}
	return flat
}

func primaryName(names gjson.Result) (family, given any) {
	arr := names.Array()
	if len(arr) == 0 {
		return "", ""
	}
	name := arr[0]
	family = name.Get("family").String()
	var parts []string
	for _, g := range name.Get("given").Array() {
		parts = append(parts, g.String())
	}
	given = strings.Join(parts, " ")
	return family, given
}

func findNPI(identifiers gjson.Result) any {
	for _, ident := range identifiers.Array() {
		if strings.Contains(strings.ToLower(ident.Get("system").String()), "npi") {
			return ident.Get("value").String()
		}
	}
	return nil
}

func codeableConcept(concept gjson.Result) any {
	if !concept.Exists() {
		return nil
	}
	if codings := concept.Get("coding").Array(); len(codings) > 0 {
		return codings[0].Get("code").Value()
	}
	if text := concept.Get("text"); text.Exists() {
		return text.String()
	}
	return nil
}

func reference(ref gjson.Result) any {
	if !ref.Exists() {
		return nil
	}
	return nullableString(ref.Get("reference"))
}

func money(m gjson.Result) any {
	if !m.Exists() {
		return nil
	}
	return m.Get("value").Value()
}

func nullableString(v gjson.Result) any {
	if !v.Exists() {
		return nil
	}
	return v.Value()
}

func (f *FHIR) DiscoverSchema(ctx context.Context) (*connector.SchemaDiscoveryResult, error) {
	if !f.IsConnected() {
		if err := f.Connect(ctx); err != nil {
			return nil, err
		}
	}

	data, _, err := f.get(ctx, "/metadata", nil)
	if err != nil {
		return nil, &connector.Error{ConnectorID: f.ConnectorID, Op: "discover_schema", Err: err}
	}

	capability := gjson.ParseBytes(data)
	resources := capability.Get("rest.0.resource").Array()

	tables := make([]string, 0, len(resources))
	columns := make(map[string][]connector.ColumnInfo, len(resources))

	for _, res := range resources {
		resType := res.Get("type").String()
		if resType == "" {
			continue
		}
		tables = append(tables, resType)

		searchParams := res.Get("searchParam").Array()
		cols := make([]connector.ColumnInfo, 0, len(searchParams))
		for i, p := range searchParams {
			if i >= 10 {
				break
			}
			cols = append(cols, connector.ColumnInfo{Name: p.Get("name").String(), Type: "string", Nullable: true})
		}
		columns[resType] = cols
	}

	return &connector.SchemaDiscoveryResult{Tables: tables, Columns: columns}, nil
}
