package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rakunlabs/ingestcore/internal/healthcare"
	"github.com/rakunlabs/ingestcore/internal/model"
)

// DefaultRules returns the baseline fraud/waste/abuse and coverage rule set,
// in registration order. Each rule reads the canonical claim shape produced
// by mapping.Mapper.Transform rather than any single source system's field
// names.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "HIGH_DOLLAR", Fn: highDollarRule},
		{ID: "REIMB_OUTLIER", Fn: reimbursementOutlierRule},
		{ID: "NCCI_PTP", Fn: ncciPTPRule},
		{ID: "NCCI_MUE", Fn: ncciMUERule},
		{ID: "LCD_MISMATCH", Fn: lcdCoverageRule},
		{ID: "LCD_AGE_GENDER", Fn: lcdAgeGenderRule},
		{ID: "LCD_EXPERIMENTAL", Fn: lcdExperimentalRule},
		{ID: "GLOBAL_SURGERY_NO_MODIFIER", Fn: globalSurgeryModifierRule},
		{ID: "OIG_EXCLUSION", Fn: oigExclusionRule},
		{ID: "FWA_WATCH", Fn: fwaWatchlistRule},
		{ID: "INVALID_NPI", Fn: invalidNPIRule},
		{ID: "PROVIDER_OUTLIER", Fn: providerOutlierRule},
		{ID: "DUPLICATE_LINE", Fn: duplicateLineRule},
		{ID: "MISC_CODE", Fn: miscCodeRule},
	}
}

type tier struct {
	threshold float64
	weight    float64
}

func highDollarRule(rc Context) ([]model.RuleFinding, error) {
	tiers := []tier{{10000, 0.1}, {25000, 0.15}}
	if configured, ok := rc.Config["high_dollar_tiers"].([]tier); ok && len(configured) > 0 {
		tiers = configured
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].threshold < tiers[j].threshold })

	total := decimal.Zero
	for _, item := range itemsOf(rc.Claim) {
		total = total.Add(decimal.NewFromFloat(asFloat(item["line_charge"])))
	}
	totalF, _ := total.Float64()

	var hits []model.RuleFinding
	for _, t := range tiers {
		if totalF >= t.threshold {
			hits = append(hits, model.RuleFinding{
				RuleID:      fmt.Sprintf("HIGH_DOLLAR_%d", int(t.threshold)),
				Description: fmt.Sprintf("Total billed amount $%.2f exceeds threshold $%.2f", totalF, t.threshold),
				Weight:      t.weight,
				Severity:    model.SeverityHigh,
				Flag:        "high_dollar",
				Metadata: map[string]any{
					"category":      "financial",
					"threshold":     t.threshold,
					"total_billed":  totalF,
				},
			})
		}
	}
	return hits, nil
}

func reimbursementOutlierRule(rc Context) ([]model.RuleFinding, error) {
	mpfs, _ := rc.Datasets["mpfs"].(map[string]map[string]any)
	percentile := 0.95
	if p, ok := rc.Config["outlier_percentile"].(float64); ok {
		percentile = p
	}

	var hits []model.RuleFinding
	for idx, item := range itemsOf(rc.Claim) {
		code := asString(item["procedure_source_value"])
		lineAmount := decimal.NewFromFloat(asFloat(item["line_charge"]))
		if code == "" || mpfs == nil {
			continue
		}
		entry, ok := mpfs[code]
		if !ok {
			continue
		}
		regions, _ := entry["regions"].(map[string]float64)
		benchmarkVal, hasBenchmark := regions["national"]
		if !hasBenchmark {
			continue
		}
		benchmark := decimal.NewFromFloat(benchmarkVal)
		cutoff := benchmark.Mul(decimal.NewFromFloat(1 + percentile))
		if lineAmount.GreaterThanOrEqual(cutoff) {
			delta := lineAmount.Sub(benchmark)
			lineF, _ := lineAmount.Float64()
			benchF, _ := benchmark.Float64()
			deltaF, _ := delta.Float64()
			hits = append(hits, model.RuleFinding{
				RuleID:      "REIMB_OUTLIER",
				Description: fmt.Sprintf("%s billed $%.2f vs benchmark $%.2f", code, lineF, benchF),
				Weight:      0.12,
				Severity:    model.SeverityMedium,
				Flag:        "reimbursement_outlier",
				Citation:    "CMS MPFS",
				Metadata: map[string]any{
					"category":      "financial",
					"line_index":    idx,
					"benchmark":     benchF,
					"percentile":    percentile,
					"estimated_roi": deltaF,
				},
			})
		}
	}
	return hits, nil
}

func ncciPTPRule(rc Context) ([]model.RuleFinding, error) {
	dataset, _ := rc.Datasets["ncci_ptp"].(map[[2]string]map[string]any)
	if dataset == nil {
		return nil, nil
	}

	items := itemsOf(rc.Claim)
	codes := make([]string, len(items))
	for i, item := range items {
		codes[i] = asString(item["procedure_source_value"])
	}

	var hits []model.RuleFinding
	for i, codeA := range codes {
		if codeA == "" {
			continue
		}
		for j := i + 1; j < len(codes); j++ {
			codeB := codes[j]
			if codeB == "" {
				continue
			}
			key := pairKey(codeA, codeB)
			rationale, ok := dataset[key]
			if !ok {
				continue
			}
			hits = append(hits, model.RuleFinding{
				RuleID:      "NCCI_PTP",
				Description: fmt.Sprintf("PTP edit between %s and %s", codeA, codeB),
				Weight:      0.18,
				Severity:    model.SeverityCritical,
				Flag:        "ncci_ptp",
				Citation:    asString(rationale["citation"]),
				Metadata: map[string]any{
					"category":     "ncci",
					"line_indexes": []int{i, j},
					"modifier":     rationale["modifier"],
				},
			})
		}
	}
	return hits, nil
}

func pairKey(a, b string) [2]string {
	if a <= b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

func ncciMUERule(rc Context) ([]model.RuleFinding, error) {
	dataset, _ := rc.Datasets["ncci_mue"].(map[string]any)
	if dataset == nil {
		return nil, nil
	}

	var hits []model.RuleFinding
	for idx, item := range itemsOf(rc.Claim) {
		code := asString(item["procedure_source_value"])
		quantity := asFloat(item["quantity"])
		entry, ok := dataset[code]
		if !ok {
			continue
		}
		var limit float64
		switch v := entry.(type) {
		case map[string]any:
			limit = asFloat(v["limit"])
		default:
			limit = asFloat(v)
		}
		if limit > 0 && quantity > limit {
			hits = append(hits, model.RuleFinding{
				RuleID:      "NCCI_MUE",
				Description: fmt.Sprintf("Quantity %.0f exceeds MUE limit %.0f for %s", quantity, limit, code),
				Weight:      0.16,
				Severity:    model.SeverityHigh,
				Flag:        "ncci_mue",
				Citation:    "CMS NCCI MUE",
				Metadata:    map[string]any{"category": "ncci", "line_index": idx, "limit": limit},
			})
		}
	}
	return hits, nil
}

func lcdEntryFor(rc Context, code string) map[string]any {
	dataset, _ := rc.Datasets["lcd"].(map[string]map[string]any)
	if dataset == nil {
		return nil
	}
	return dataset[code]
}

func lcdCoverageRule(rc Context) ([]model.RuleFinding, error) {
	items := itemsOf(rc.Claim)

	diagnoses := make(map[string]struct{})
	for _, item := range items {
		if code := asString(item["condition_source_value"]); code != "" {
			diagnoses[code] = struct{}{}
		}
	}

	var hits []model.RuleFinding
	for idx, item := range items {
		code := asString(item["procedure_source_value"])
		entry := lcdEntryFor(rc, code)
		if entry == nil {
			continue
		}
		allowed := asStringSet(entry["diagnosis_codes"])
		if len(allowed) == 0 {
			continue
		}
		covered := false
		for d := range diagnoses {
			if _, ok := allowed[d]; ok {
				covered = true
				break
			}
		}
		if !covered {
			hits = append(hits, model.RuleFinding{
				RuleID:      "LCD_MISMATCH",
				Description: fmt.Sprintf("%s lacks covered diagnosis per LCD/NCD", code),
				Weight:      -0.2,
				Severity:    model.SeverityHigh,
				Flag:        "lcd_non_covered",
				Citation:    "CMS LCD/NCD",
				Metadata: map[string]any{
					"category":          "coverage",
					"line_index":        idx,
					"allowed_diagnoses": sortedKeys(allowed),
				},
			})
		}
	}
	return hits, nil
}

func lcdAgeGenderRule(rc Context) ([]model.RuleFinding, error) {
	member := groupOf(rc.Claim, "member")
	var age float64
	hasAge := false
	if v, ok := member["age"]; ok {
		age = asFloat(v)
		hasAge = true
	}
	gender := strings.ToUpper(asString(member["gender_source_value"]))
	if !hasAge && gender == "" {
		return nil, nil
	}

	var hits []model.RuleFinding
	for idx, item := range itemsOf(rc.Claim) {
		code := asString(item["procedure_source_value"])
		entry := lcdEntryFor(rc, code)
		if entry == nil {
			continue
		}

		if hasAge {
			ranges, _ := entry["age_ranges"].([]map[string]float64)
			if len(ranges) > 0 {
				inRange := false
				for _, r := range ranges {
					min, max := r["min"], r["max"]
					if max == 0 {
						max = age
					}
					if age >= min && age <= max {
						inRange = true
						break
					}
				}
				if !inRange {
					hits = append(hits, model.RuleFinding{
						RuleID:      "LCD_AGE_CONFLICT",
						Description: fmt.Sprintf("%s age %.0f outside LCD guidance", code, age),
						Weight:      -0.15,
						Severity:    model.SeverityHigh,
						Flag:        "lcd_age_mismatch",
						Citation:    "CMS LCD/NCD",
						Metadata: map[string]any{
							"category":          "coverage",
							"line_index":        idx,
							"age":               age,
							"allowed_age_ranges": ranges,
						},
					})
				}
			}
		}

		genders := asStringSet(entry["genders"])
		if len(genders) > 0 && gender != "" {
			if _, ok := genders[gender]; !ok {
				hits = append(hits, model.RuleFinding{
					RuleID:      "LCD_GENDER_CONFLICT",
					Description: fmt.Sprintf("%s gender %s outside LCD guidance", code, gender),
					Weight:      -0.1,
					Severity:    model.SeverityMedium,
					Flag:        "lcd_gender_mismatch",
					Citation:    "CMS LCD/NCD",
					Metadata: map[string]any{
						"category":        "coverage",
						"line_index":      idx,
						"allowed_genders": sortedKeys(genders),
					},
				})
			}
		}
	}
	return hits, nil
}

func lcdExperimentalRule(rc Context) ([]model.RuleFinding, error) {
	var hits []model.RuleFinding
	for idx, item := range itemsOf(rc.Claim) {
		code := asString(item["procedure_source_value"])
		entry := lcdEntryFor(rc, code)
		if entry == nil {
			continue
		}
		experimental, _ := entry["experimental"].(bool)
		if experimental {
			hits = append(hits, model.RuleFinding{
				RuleID:      "LCD_EXPERIMENTAL",
				Description: fmt.Sprintf("%s marked experimental/investigational", code),
				Weight:      0.14,
				Severity:    model.SeverityHigh,
				Flag:        "experimental_code",
				Citation:    "CMS LCD/NCD",
				Metadata:    map[string]any{"category": "coverage", "line_index": idx},
			})
		}
	}
	return hits, nil
}

func globalSurgeryModifierRule(rc Context) ([]model.RuleFinding, error) {
	mpfs, _ := rc.Datasets["mpfs"].(map[string]map[string]any)
	items := itemsOf(rc.Claim)

	hasEval := false
	for _, item := range items {
		if strings.HasPrefix(asString(item["procedure_source_value"]), "99") {
			hasEval = true
			break
		}
	}
	if !hasEval || mpfs == nil {
		return nil, nil
	}

	var hits []model.RuleFinding
	for idx, item := range items {
		code := asString(item["procedure_source_value"])
		if code == "" {
			continue
		}
		entry, ok := mpfs[code]
		if !ok {
			continue
		}
		indicator := asString(entry["global_surgery"])
		if indicator != "090" && indicator != "010" {
			continue
		}
		modifier := asString(item["modifier_source_value"])
		if modifier == "25" || modifier == "57" {
			continue
		}
		if modifier == "" {
			hits = append(hits, model.RuleFinding{
				RuleID:      "GLOBAL_SURGERY_NO_MODIFIER",
				Description: fmt.Sprintf("%s with global period lacks required modifier alongside E/M services", code),
				Weight:      0.12,
				Severity:    model.SeverityMedium,
				Flag:        "global_surgery_no_modifier",
				Citation:    "CMS MPFS",
				Metadata:    map[string]any{"category": "coverage", "line_index": idx, "global_indicator": indicator},
			})
		}
	}
	return hits, nil
}

func oigExclusionRule(rc Context) ([]model.RuleFinding, error) {
	exclusions := asStringSet(rc.Datasets["oig_exclusions"])
	provider := groupOf(rc.Claim, "provider")
	npi := asString(provider["npi"])
	if npi == "" {
		return nil, nil
	}
	if _, ok := exclusions[npi]; !ok {
		return nil, nil
	}
	return []model.RuleFinding{{
		RuleID:      "OIG_EXCLUSION",
		Description: fmt.Sprintf("Provider NPI %s is on OIG exclusion list", npi),
		Weight:      0.25,
		Severity:    model.SeverityCritical,
		Flag:        "oig_excluded_provider",
		Citation:    "OIG LEIE",
		Metadata:    map[string]any{"category": "provider", "npi": npi},
	}}, nil
}

func invalidNPIRule(rc Context) ([]model.RuleFinding, error) {
	provider := groupOf(rc.Claim, "provider")
	npi := asString(provider["npi"])
	if npi == "" || healthcare.ValidNPI(npi) {
		return nil, nil
	}
	return []model.RuleFinding{{
		RuleID:      "INVALID_NPI",
		Description: fmt.Sprintf("Provider NPI %s fails the Luhn checksum", npi),
		Weight:      0.15,
		Severity:    model.SeverityHigh,
		Flag:        "invalid_npi",
		Citation:    "NPI Final Rule 45 CFR 162.406",
		Metadata:    map[string]any{"category": "provider", "npi": npi},
	}}, nil
}

func fwaWatchlistRule(rc Context) ([]model.RuleFinding, error) {
	watchlist := asStringSet(rc.Datasets["fwa_watchlist"])
	provider := groupOf(rc.Claim, "provider")
	npi := asString(provider["npi"])
	if npi == "" {
		return nil, nil
	}
	if _, ok := watchlist[npi]; !ok {
		return nil, nil
	}
	return []model.RuleFinding{{
		RuleID:      "FWA_WATCH",
		Description: fmt.Sprintf("Provider NPI %s appears on fraud watchlist", npi),
		Weight:      0.12,
		Severity:    model.SeverityHigh,
		Flag:        "fwa_watch_provider",
		Citation:    "Internal FWA Watchlist",
		Metadata:    map[string]any{"category": "provider", "npi": npi},
	}}, nil
}

func providerOutlierRule(rc Context) ([]model.RuleFinding, error) {
	utilization, _ := rc.Datasets["utilization"].(map[string]map[string]any)
	fwaConfig, _ := rc.Datasets["fwa_config"].(map[string]any)

	roiMultiplier := 1.0
	volumeThreshold := 3.0
	var highRiskSpecialties map[string]struct{}
	var distanceLimit float64
	if fwaConfig != nil {
		if v, ok := fwaConfig["roi_multiplier"].(float64); ok {
			roiMultiplier = v
		}
		if v, ok := fwaConfig["volume_threshold"].(float64); ok {
			volumeThreshold = v
		}
		highRiskSpecialties = asStringSet(fwaConfig["high_risk_specialties"])
		if v, ok := fwaConfig["geographic_distance_km"].(float64); ok {
			distanceLimit = v
		}
	}

	var hits []model.RuleFinding
	provider := groupOf(rc.Claim, "provider")
	specialty := strings.ToLower(asString(provider["specialty_source_value"]))
	if specialty != "" {
		if _, ok := highRiskSpecialties[specialty]; ok {
			hits = append(hits, model.RuleFinding{
				RuleID:      "FWA_HIGH_RISK_SPECIALTY",
				Description: fmt.Sprintf("Provider specialty %s flagged high risk", specialty),
				Weight:      0.08,
				Severity:    model.SeverityMedium,
				Flag:        "high_risk_specialty",
				Citation:    "FWA configuration",
				Metadata:    map[string]any{"category": "provider", "specialty": specialty},
			})
		}
	}

	if distanceLimit > 0 {
		var distance float64
		hasDistance := false
		if v, ok := rc.Claim["service_distance_km"]; ok {
			distance = asFloat(v)
			hasDistance = true
		} else {
			for _, item := range itemsOf(rc.Claim) {
				if v, ok := item["service_distance_km"]; ok {
					distance = asFloat(v)
					hasDistance = true
					break
				}
			}
		}
		if hasDistance && distance > distanceLimit {
			hits = append(hits, model.RuleFinding{
				RuleID:      "GEOGRAPHIC_DISTANCE_OUTLIER",
				Description: fmt.Sprintf("Service distance %.1fkm exceeds configured limit %.0fkm", distance, distanceLimit),
				Weight:      0.1,
				Severity:    model.SeverityMedium,
				Flag:        "geographic_outlier",
				Citation:    "FWA configuration",
				Metadata:    map[string]any{"category": "provider", "distance_km": distance, "limit_km": distanceLimit},
			})
		}
	}

	if utilization != nil {
		for idx, item := range itemsOf(rc.Claim) {
			code := asString(item["procedure_source_value"])
			quantity := asFloat(item["quantity"])
			amount := asFloat(item["line_charge"])
			metrics, ok := utilization[code]
			if !ok {
				continue
			}
			pctile99 := asFloat(metrics["pctile_99"])
			if pctile99 > 0 && amount > pctile99 {
				roi := (amount - pctile99) * roiMultiplier
				hits = append(hits, model.RuleFinding{
					RuleID:      "UTIL_AMOUNT_OUTLIER",
					Description: fmt.Sprintf("%s amount $%.2f exceeds 99th percentile $%.2f", code, amount, pctile99),
					Weight:      0.15,
					Severity:    model.SeverityHigh,
					Flag:        "amount_outlier",
					Citation:    "CMS Utilization",
					Metadata: map[string]any{
						"category":      "financial",
						"line_index":    idx,
						"pctile_99":     pctile99,
						"estimated_roi": roi,
					},
				})
			}
			avgUnits := asFloat(metrics["avg_units"])
			if quantity >= avgUnits*volumeThreshold {
				hits = append(hits, model.RuleFinding{
					RuleID:      "UTIL_VOLUME_OUTLIER",
					Description: fmt.Sprintf("%s quantity %.0f exceeds volume threshold", code, quantity),
					Weight:      0.1,
					Severity:    model.SeverityMedium,
					Flag:        "volume_outlier",
					Citation:    "CMS Utilization",
					Metadata: map[string]any{
						"category":         "financial",
						"line_index":       idx,
						"avg_units":        avgUnits,
						"volume_threshold": volumeThreshold,
					},
				})
			}
		}
	}

	return hits, nil
}

func duplicateLineRule(rc Context) ([]model.RuleFinding, error) {
	type key struct {
		code     string
		modifier string
	}
	counts := make(map[key]int)
	for _, item := range itemsOf(rc.Claim) {
		k := key{code: asString(item["procedure_source_value"]), modifier: asString(item["modifier_source_value"])}
		if k.code == "" {
			continue
		}
		counts[k]++
	}

	var hits []model.RuleFinding
	for k, count := range counts {
		if count > 1 {
			hits = append(hits, model.RuleFinding{
				RuleID:      "DUPLICATE_LINE",
				Description: fmt.Sprintf("Procedure %s repeated %d times", k.code, count),
				Weight:      0.08,
				Severity:    model.SeverityMedium,
				Flag:        "duplicate_line",
				Metadata:    map[string]any{"category": "financial", "modifier": k.modifier, "count": count},
			})
		}
	}
	return hits, nil
}

func miscCodeRule(rc Context) ([]model.RuleFinding, error) {
	var hits []model.RuleFinding
	for idx, item := range itemsOf(rc.Claim) {
		code := asString(item["procedure_source_value"])
		if strings.HasPrefix(code, "99") {
			hits = append(hits, model.RuleFinding{
				RuleID:      "MISC_CODE",
				Description: fmt.Sprintf("Procedure %s is miscellaneous (99-prefix)", code),
				Weight:      0.05,
				Severity:    model.SeverityLow,
				Flag:        "misc_code",
				Metadata:    map[string]any{"category": "financial", "line_index": idx},
			})
		}
	}
	return hits, nil
}
