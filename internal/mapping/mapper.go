// Package mapping resolves source record fields onto the canonical claims
// schema: alias lookup, case-transform retry, embedding similarity, and an
// optional LLM confidence rerank, in that order, with the first stage to
// produce a match winning.
package mapping

import (
	"context"
	"encoding/hex"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/rakunlabs/ingestcore/internal/dateparse"
	"github.com/rakunlabs/ingestcore/internal/model"
	"github.com/rakunlabs/ingestcore/internal/schema"
)

// Confidence bands the rerank stage routes on.
const (
	AutoAcceptMin = 85
	ReviewMin     = 50
)

// Options configures a Mapper's behavior for one invocation.
type Options struct {
	// CustomMapping overrides alias resolution for specific source fields,
	// matched case-insensitively. Highest priority stage.
	CustomMapping map[string]string

	// UseSemanticMatching enables the embedding similarity stage (and, if
	// Reranker is set, the LLM rerank stage) for fields the alias stages
	// can't resolve.
	UseSemanticMatching bool

	SemanticThreshold float64
	TopK              int
}

// Mapping is one source→canonical field resolution produced during a
// Transform call, mirroring model.FieldMapping but tracked per-call before
// being persisted.
type Mapping struct {
	SourceField string
	TargetField string
	Confidence  float64
	Method      model.MappingMethod
	Reasoning   string
}

// Result holds everything a Transform call produced: the normalized record
// plus bookkeeping for review and persistence.
type Result struct {
	Normalized map[string]any
	Mappings   []Mapping
	Unmapped   []string
}

// Mapper transforms raw source records into the canonical claims schema.
type Mapper struct {
	schema   *schema.Schema
	matcher  *semanticMatcher
	reranker *Reranker

	customLookup map[string]string // lowercase source field -> canonical
}

// New builds a Mapper. embedder and reranker may be nil; when embedder is
// nil the embedding stage is skipped regardless of Options.UseSemanticMatching.
func New(sch *schema.Schema, embedder Embedder, embeddingCacheSize int, reranker *Reranker, customMapping map[string]string) (*Mapper, error) {
	m := &Mapper{
		schema:       sch,
		reranker:     reranker,
		customLookup: make(map[string]string, len(customMapping)),
	}
	for k, v := range customMapping {
		m.customLookup[lower(k)] = v
	}

	if embedder != nil {
		matcher, err := newSemanticMatcher(sch, embedder, embeddingCacheSize)
		if err != nil {
			return nil, err
		}
		m.matcher = matcher
	}

	return m, nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Transform normalizes a single raw claim record to canonical field names,
// grouping member/provider fields and flattening line items the same way.
func (m *Mapper) Transform(ctx context.Context, raw map[string]any, opts Options) (*Result, error) {
	if opts.SemanticThreshold == 0 {
		opts.SemanticThreshold = 0.3
	}
	if opts.TopK == 0 {
		opts.TopK = 5
	}

	flat := flatten(raw)

	result := &Result{Normalized: make(map[string]any)}

	for sourceField, value := range flat {
		mapping, err := m.resolveField(ctx, sourceField, value, opts)
		if err != nil {
			return nil, err
		}
		if mapping == nil {
			result.Unmapped = appendUnique(result.Unmapped, sourceField)
			continue
		}
		result.Mappings = append(result.Mappings, *mapping)
		result.Normalized[mapping.TargetField] = normalizeValue(value)
	}

	result.Normalized["member"] = extractGroup(result.Normalized, memberFields)
	result.Normalized["provider"] = extractGroup(result.Normalized, providerFields)
	result.Normalized["items"] = m.extractItems(raw)

	if _, ok := result.Normalized["visit_occurrence_id"]; !ok {
		if id, ok := raw["claim_id"]; ok {
			result.Normalized["visit_occurrence_id"] = id
		} else if id, ok := raw["id"]; ok {
			result.Normalized["visit_occurrence_id"] = id
		}
	}

	return result, nil
}

// normalizeValue applies the light type normalization that runs over every
// resolved field regardless of how it was mapped: datetimes and
// date-shaped strings become ISO text, byte slices become UTF-8 (or hex if
// not valid UTF-8), and arbitrary-precision decimals become float64.
// Everything else passes through unchanged.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		if utf8.Valid(val) {
			return string(val)
		}
		return hex.EncodeToString(val)
	case decimal.Decimal:
		f, _ := val.Float64()
		return f
	case string:
		if parsed, ok := dateparse.Parse(val); ok {
			return dateparse.ToISODate(parsed)
		}
		return val
	default:
		return v
	}
}

var memberFields = []string{"person_id", "birth_datetime", "gender_source_value", "age"}
var providerFields = []string{"npi", "specialty_source_value", "provider_id"}

func extractGroup(normalized map[string]any, fields []string) map[string]any {
	group := make(map[string]any)
	for _, f := range fields {
		if v, ok := normalized[f]; ok {
			group[f] = v
		}
	}
	return group
}

// itemFieldAliases maps line-item source keys directly onto canonical item
// fields, bypassing the full resolution pipeline since items are a small,
// fixed vocabulary.
var itemFieldAliases = map[string]string{
	"procedure_code": "procedure_source_value",
	"cpt_code":       "procedure_source_value",
	"hcpcs_code":     "procedure_source_value",
	"service_code":   "procedure_source_value",
	"quantity":       "quantity",
	"units":          "quantity",
	"modifier":       "modifier_source_value",
	"modifier_1":     "modifier_source_value",
	"line_amount":    "line_charge",
	"charge_amount":  "line_charge",
	"diagnosis_code": "condition_source_value",
}

func (m *Mapper) extractItems(raw map[string]any) []map[string]any {
	rawItems, ok := raw["items"].([]any)
	if !ok || len(rawItems) == 0 {
		return nil
	}

	items := make([]map[string]any, 0, len(rawItems))
	for _, rawItem := range rawItems {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}

		normalized := make(map[string]any)
		for sourceKey, canonicalKey := range itemFieldAliases {
			if v, ok := item[sourceKey]; ok {
				if _, already := normalized[canonicalKey]; !already {
					normalized[canonicalKey] = v
				}
			}
		}
		for key, value := range item {
			if _, ok := m.schema.Field(key); ok {
				if _, already := normalized[key]; !already {
					normalized[key] = value
				}
			}
		}

		if len(normalized) > 0 {
			items = append(items, normalized)
		}
	}

	return items
}

// resolveField runs the 5-stage resolution order and returns the mapping it
// settles on, or nil if sourceField can't be resolved at all.
func (m *Mapper) resolveField(ctx context.Context, sourceField string, value any, opts Options) (*Mapping, error) {
	fieldLower := lower(sourceField)

	// 1. Custom per-invocation overrides.
	if target, ok := m.customLookup[fieldLower]; ok {
		return &Mapping{SourceField: sourceField, TargetField: target, Confidence: 1, Method: model.MethodManual}, nil
	}
	for k, v := range opts.CustomMapping {
		if lower(k) == fieldLower {
			return &Mapping{SourceField: sourceField, TargetField: v, Confidence: 1, Method: model.MethodManual}, nil
		}
	}

	// 2. Canonical alias lookup.
	if target, ok := m.schema.ResolveAlias(sourceField); ok {
		return &Mapping{SourceField: sourceField, TargetField: target, Confidence: 1, Method: model.MethodAlias}, nil
	}

	// 3. Case transformation, then alias lookup again.
	if target, ok := m.schema.ResolveAlias(toSnakeCase(sourceField)); ok {
		return &Mapping{SourceField: sourceField, TargetField: target, Confidence: 1, Method: model.MethodAlias}, nil
	}

	// 4/5. Embedding similarity, optionally refined by LLM rerank.
	if !opts.UseSemanticMatching || m.matcher == nil {
		return nil, nil
	}

	candidates := m.matcher.findCandidates(sourceField, opts.TopK, opts.SemanticThreshold)
	if len(candidates) == 0 {
		return nil, nil
	}

	if m.reranker == nil {
		top := candidates[0]
		return &Mapping{SourceField: sourceField, TargetField: top.CanonicalField, Confidence: top.Similarity, Method: model.MethodSemantic}, nil
	}

	sampleValues := []string{}
	if s, ok := value.(string); ok {
		sampleValues = append(sampleValues, s)
	}

	verdict, err := m.reranker.Rerank(ctx, sourceField, candidates, sampleValues)
	if err != nil {
		// Parse/transport failure: fall back to the strongest embedding
		// candidate rather than dropping the field entirely.
		top := candidates[0]
		return &Mapping{SourceField: sourceField, TargetField: top.CanonicalField, Confidence: top.Similarity, Method: model.MethodSemantic}, nil
	}

	if verdict.Confidence < ReviewMin {
		return nil, nil
	}

	return &Mapping{
		SourceField: sourceField,
		TargetField: verdict.TargetField,
		Confidence:  float64(verdict.Confidence) / 100,
		Method:      model.MethodLLMRerank,
		Reasoning:   verdict.Reasoning,
	}, nil
}

func appendUnique(xs []string, x string) []string {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(xs, x)
}
