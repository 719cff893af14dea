// Package policysync synchronizes payer and CMS policy documents (MLN
// Matters articles, Internet-Only Manual chapters, LCD/NCD updates, NCCI
// edits) into the vector store backing policy-citation search, computing a
// stable dedupe key per document and throttling how often a source is
// re-fetched.
package policysync

import (
	"context"
	"crypto/md5" //nolint:gosec // used only as a short stable identifier, never a security primitive
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/ingestcore/internal/model"
	"github.com/rakunlabs/ingestcore/internal/store"
)

// Source is one of the CMS/payer policy feeds this package knows how to
// synchronize.
type Source string

const (
	SourceMLNMatters Source = "mln_matters"
	SourceIOM        Source = "internet_only_manuals"
	SourceLCD        Source = "lcd_updates"
	SourceNCD        Source = "ncd_updates"
	SourceNCCI       Source = "ncci_edits"
	SourceCustom     Source = "custom"
)

// allSources lists every source sync_all iterates, mirroring the Python
// Enum excluding CUSTOM (which has no automatic fetcher).
var allSources = []Source{SourceMLNMatters, SourceIOM, SourceLCD, SourceNCD, SourceNCCI}

// Document is one policy document queued for indexing, either fetched
// automatically or supplied by a caller (manual/batch upload).
type Document struct {
	Content       string
	Title         string
	Source        Source
	SourceURL     string
	PolicyKey     string
	EffectiveDate string
	ExpiresDate   string
	Authority     string
	DocumentType  string
	Keywords      []string
	RelatedCodes  []string
}

// Result is one sync_source call's outcome.
type Result struct {
	Source           Source
	DocumentsFound   int
	DocumentsAdded   int
	DocumentsUpdated int
	DocumentsSkipped int
	Errors           []string
	Duration         time.Duration
}

// Embedder produces a vector embedding for a policy document's content.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Fetcher retrieves documents for a source from its upstream feed. Sources
// with no configured fetcher simply return nil, nil, mirroring the
// placeholder "no automatic fetch configured" behavior in the source.
type Fetcher func(ctx context.Context, source Source) ([]Document, error)

// AuditLogger records every sync start, completion, and failure for the
// HIPAA audit trail; it is an external collaborator, not owned by this
// package.
type AuditLogger interface {
	LogPolicyEvent(ctx context.Context, action string, details map[string]any, status, errMessage string)
}

// noopAudit is used when no AuditLogger is wired, so callers never need a
// nil check.
type noopAudit struct{}

func (noopAudit) LogPolicyEvent(context.Context, string, map[string]any, string, string) {}

// Manager synchronizes policy documents into store and tracks per-source
// throttle state.
type Manager struct {
	Store    store.PolicyDocStorer
	Embedder Embedder
	Fetch    Fetcher
	Audit    AuditLogger
}

// NewManager builds a Manager. embedder and fetch may be nil: a nil embedder
// persists documents without a vector (falling back to keyword search at
// query time); a nil fetch means sources must always be synced with
// explicit documents.
func NewManager(s store.PolicyDocStorer, embedder Embedder, fetch Fetcher, audit AuditLogger) *Manager {
	if audit == nil {
		audit = noopAudit{}
	}
	return &Manager{Store: s, Embedder: embedder, Fetch: fetch, Audit: audit}
}

// PolicyKey derives the stable dedupe/version key for a document: the
// source name uppercased, followed by the first 12 hex characters of
// MD5(source|title). The hash is used only as a short stable identifier,
// never as a security primitive.
func PolicyKey(source Source, title string) string {
	sum := md5.Sum([]byte(string(source) + "|" + title)) //nolint:gosec
	return strings.ToUpper(string(source)) + "_" + hex.EncodeToString(sum[:])[:12]
}

// contentHash identifies a document's exact content for dedup against
// GetPolicyDocByHash, independent of its policy key.
func contentHash(content string) string {
	sum := md5.Sum([]byte(content)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// ShouldSync reports whether source is due for a sync: true if it has never
// synced, or if minIntervalHours have elapsed since its last recorded
// fetch.
func (m *Manager) ShouldSync(ctx context.Context, source Source, minIntervalHours int) (bool, error) {
	last, err := m.Store.LastSyncedAt(ctx, string(source))
	if err != nil {
		return false, fmt.Errorf("policysync: last synced at for %q: %w", source, err)
	}
	if last == nil || *last == "" {
		return true, nil
	}

	lastSync, err := time.Parse(time.RFC3339, *last)
	if err != nil {
		return true, nil
	}
	return time.Since(lastSync) > time.Duration(minIntervalHours)*time.Hour, nil
}

// SyncSource synchronizes one source. If documents is nil, it is fetched via
// Fetch (if configured). force bypasses the throttle check.
func (m *Manager) SyncSource(ctx context.Context, source Source, documents []Document, force bool) Result {
	start := time.Now()

	if !force {
		should, err := m.ShouldSync(ctx, source, 6)
		if err == nil && !should {
			logi.Ctx(ctx).Info("policysync: skipping sync, interval not elapsed", "source", source)
			return Result{Source: source, Errors: []string{"sync skipped - interval not elapsed"}}
		}
	}

	m.Audit.LogPolicyEvent(ctx, "policy.sync_start", map[string]any{"source": source}, "success", "")

	if documents == nil {
		fetched, err := m.fetchFrom(ctx, source)
		if err != nil {
			errMsg := err.Error()
			m.Audit.LogPolicyEvent(ctx, "policy.sync_failed", map[string]any{"source": source}, "error", errMsg)
			return Result{Source: source, Errors: []string{errMsg}, Duration: time.Since(start)}
		}
		documents = fetched
	}

	added, updated, skipped := 0, 0, 0
	var errs []string

	for _, doc := range documents {
		outcome, err := m.indexDocument(ctx, doc)
		if err != nil {
			errs = append(errs, fmt.Sprintf("failed to index %s: %v", doc.Title, err))
			logi.Ctx(ctx).Error("policysync: index document failed", "title", doc.Title, "source", source, "error", err)
			continue
		}
		switch outcome {
		case indexSkipped:
			skipped++
		case indexUpdated:
			updated++
		default:
			added++
		}
	}

	result := Result{
		Source:           source,
		DocumentsFound:   len(documents),
		DocumentsAdded:   added,
		DocumentsUpdated: updated,
		DocumentsSkipped: skipped,
		Errors:           errs,
		Duration:         time.Since(start),
	}

	status := "success"
	if len(errs) > 0 {
		status = "partial"
	}
	m.Audit.LogPolicyEvent(ctx, "policy.sync_complete", map[string]any{
		"source": source, "documents_added": added, "documents_updated": updated,
		"documents_skipped": skipped, "duration_seconds": result.Duration.Seconds(),
	}, status, "")

	return result
}

type indexOutcome int

const (
	indexAdded indexOutcome = iota
	indexUpdated
	indexSkipped
)

// indexDocument upserts one document, classifying whether it was a brand
// new policy key, a changed version of an existing key, or an exact
// duplicate of content already stored.
func (m *Manager) indexDocument(ctx context.Context, doc Document) (indexOutcome, error) {
	key := doc.PolicyKey
	if key == "" {
		key = PolicyKey(doc.Source, doc.Title)
	}
	hash := contentHash(doc.Content)

	if existing, err := m.Store.GetPolicyDocByHash(ctx, string(doc.Source), hash); err != nil {
		return 0, fmt.Errorf("check existing content: %w", err)
	} else if existing != nil {
		return indexSkipped, nil
	}

	outcome := indexAdded
	if prior, err := m.Store.GetPolicyDocByID(ctx, key); err != nil {
		return 0, fmt.Errorf("check existing key: %w", err)
	} else if prior != nil {
		outcome = indexUpdated
	}

	var embedding []float32
	if m.Embedder != nil {
		e, err := m.Embedder.Embed(ctx, doc.Content)
		if err != nil {
			return 0, fmt.Errorf("embed document: %w", err)
		}
		embedding = e
	}

	if err := m.Store.UpsertPolicyDoc(ctx, model.PolicyDoc{
		ID:          key,
		Source:      string(doc.Source),
		Title:       doc.Title,
		URL:         doc.SourceURL,
		ContentHash: hash,
		Embedding:   embedding,
		FetchedAt:   time.Now().UTC().Format(time.RFC3339),
		Metadata:    buildMetadata(doc),
	}); err != nil {
		return 0, fmt.Errorf("upsert policy doc: %w", err)
	}

	return outcome, nil
}

func buildMetadata(doc Document) map[string]any {
	authority := doc.Authority
	if authority == "" {
		authority = "CMS"
	}
	documentType := doc.DocumentType
	if documentType == "" {
		documentType = "policy"
	}

	metadata := map[string]any{
		"source":        string(doc.Source),
		"source_url":    doc.SourceURL,
		"title":         doc.Title,
		"authority":     authority,
		"document_type": documentType,
	}
	if doc.EffectiveDate != "" {
		metadata["effective_date"] = doc.EffectiveDate
	}
	if doc.ExpiresDate != "" {
		metadata["expires_date"] = doc.ExpiresDate
	}
	if len(doc.Keywords) > 0 {
		metadata["keywords"] = strings.Join(doc.Keywords, ",")
	}
	if len(doc.RelatedCodes) > 0 {
		metadata["related_codes"] = strings.Join(doc.RelatedCodes, ",")
	}
	return metadata
}

func (m *Manager) fetchFrom(ctx context.Context, source Source) ([]Document, error) {
	if m.Fetch == nil {
		logi.Ctx(ctx).Info("policysync: no fetcher configured, nothing to sync", "source", source)
		return nil, nil
	}
	return m.Fetch(ctx, source)
}

// SyncAll synchronizes every non-custom source.
func (m *Manager) SyncAll(ctx context.Context, force bool) map[Source]Result {
	results := make(map[Source]Result, len(allSources))
	for _, source := range allSources {
		results[source] = m.SyncSource(ctx, source, nil, force)
	}
	return results
}
