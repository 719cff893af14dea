package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/worldline-go/klient"
)

const defaultRerankBaseURL = "https://api.anthropic.com"

// RerankResult is the reranker's verdict on the best candidate for one
// source field, including the confidence band a caller should route on.
type RerankResult struct {
	TargetField string
	Confidence  int // 0-100
	Reasoning   string
}

// NeedsReview reports whether this result should be routed to a human
// instead of auto-accepted.
func (r RerankResult) NeedsReview(autoAcceptMin int) bool {
	return r.Confidence < autoAcceptMin
}

// Reranker asks an LLM to pick the best canonical field among a shortlist
// of embedding candidates and to score its own confidence. When one is
// configured, Mapper calls it for every field that reaches the embedding
// stage with at least one candidate; parse or transport failures are the
// caller's signal to fall back to the top embedding match.
type Reranker struct {
	client *klient.Client
	model  string
}

// NewReranker builds a reranker against the Anthropic Messages API. baseURL
// defaults to the public Anthropic endpoint when empty.
func NewReranker(apiKey, model, baseURL string) (*Reranker, error) {
	if baseURL == "" {
		baseURL = defaultRerankBaseURL
	}

	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithHeaderSet(http.Header{
			"X-Api-Key":         []string{apiKey},
			"Anthropic-Version": []string{"2023-06-01"},
			"Content-Type":      []string{"application/json"},
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Reranker{client: client, model: model}, nil
}

// Rerank scores candidates for sourceField, using up to 5 sample values as
// additional context. Temperature is fixed at 0 for deterministic output.
// A transport error or an unparseable response is returned as an error;
// callers fall back to the highest-similarity candidate in that case.
func (r *Reranker) Rerank(ctx context.Context, sourceField string, candidates []Candidate, sampleValues []string) (*RerankResult, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("rerank %q: no candidates to choose from", sourceField)
	}

	prompt := buildRerankPrompt(sourceField, candidates, sampleValues)

	reqBody := map[string]any{
		"model":       r.model,
		"max_tokens":  200,
		"temperature": 0,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := r.client.Do(req, func(httpResp *http.Response) error {
		raw, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &resp)
	}); err != nil {
		return nil, fmt.Errorf("rerank request for %q: %w", sourceField, err)
	}

	if resp.Error.Message != "" {
		return nil, fmt.Errorf("rerank %q: anthropic error: %s", sourceField, resp.Error.Message)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	parsed, err := parseRerankResponse(text)
	if err != nil {
		return nil, fmt.Errorf("parse rerank response for %q: %w", sourceField, err)
	}

	return parsed, nil
}

func buildRerankPrompt(sourceField string, candidates []Candidate, sampleValues []string) string {
	var candidateLines strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&candidateLines, "%d. %s (embedding similarity: %.3f)\n", i+1, c.CanonicalField, c.Similarity)
	}

	samplesText := "No sample values provided"
	if len(sampleValues) > 0 {
		n := len(sampleValues)
		if n > 5 {
			n = 5
		}
		quoted := make([]string, n)
		for i := 0; i < n; i++ {
			v := sampleValues[i]
			if len(v) > 50 {
				v = v[:50]
			}
			quoted[i] = fmt.Sprintf("%q", v)
		}
		samplesText = strings.Join(quoted, ", ")
	}

	return fmt.Sprintf(`You are a healthcare data mapping expert. Select the best OMOP CDM field mapping.

## Source Field
Name: %q
Sample values: %s

## Candidate Mappings (from embedding similarity)
%s
## Instructions
Pick the single best candidate and score your confidence 0-100 based on
name similarity, value format alignment, and healthcare domain knowledge.

Respond with ONLY valid JSON: {"target_field": "selected_field_name", "confidence": 85, "reasoning": "brief explanation"}`,
		sourceField, samplesText, candidateLines.String())
}

var jsonObjectPattern = regexp.MustCompile(`\{[^{}]*\}`)

func parseRerankResponse(text string) (*RerankResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}

	var raw struct {
		TargetField string `json:"target_field"`
		Confidence  int    `json:"confidence"`
		Reasoning   string `json:"reasoning"`
	}

	if err := json.Unmarshal([]byte(text), &raw); err == nil && raw.TargetField != "" {
		return &RerankResult{TargetField: raw.TargetField, Confidence: raw.Confidence, Reasoning: raw.Reasoning}, nil
	}

	if match := jsonObjectPattern.FindString(text); match != "" {
		if err := json.Unmarshal([]byte(match), &raw); err == nil && raw.TargetField != "" {
			return &RerankResult{TargetField: raw.TargetField, Confidence: raw.Confidence, Reasoning: raw.Reasoning}, nil
		}
	}

	return nil, fmt.Errorf("no valid JSON object found in response")
}
