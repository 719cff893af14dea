package policysync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rakunlabs/ingestcore/internal/model"
)

type fakePolicyStore struct {
	mu       sync.Mutex
	byID     map[string]model.PolicyDoc
	byHash   map[string]model.PolicyDoc
	lastSync map[string]string
}

func newFakePolicyStore() *fakePolicyStore {
	return &fakePolicyStore{
		byID:     map[string]model.PolicyDoc{},
		byHash:   map[string]model.PolicyDoc{},
		lastSync: map[string]string{},
	}
}

func (f *fakePolicyStore) UpsertPolicyDoc(_ context.Context, doc model.PolicyDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[doc.ID] = doc
	f.byHash[doc.Source+"|"+doc.ContentHash] = doc
	f.lastSync[doc.Source] = doc.FetchedAt
	return nil
}

func (f *fakePolicyStore) GetPolicyDocByHash(_ context.Context, source, contentHash string) (*model.PolicyDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.byHash[source+"|"+contentHash]; ok {
		return &doc, nil
	}
	return nil, nil
}

func (f *fakePolicyStore) GetPolicyDocByID(_ context.Context, id string) (*model.PolicyDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.byID[id]; ok {
		return &doc, nil
	}
	return nil, nil
}

func (f *fakePolicyStore) LastSyncedAt(_ context.Context, source string) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts, ok := f.lastSync[source]; ok {
		return &ts, nil
	}
	return nil, nil
}

func TestPolicyKeyStableAndNamespaced(t *testing.T) {
	k1 := PolicyKey(SourceLCD, "Spinal Fusion Coverage")
	k2 := PolicyKey(SourceLCD, "Spinal Fusion Coverage")
	if k1 != k2 {
		t.Fatalf("expected stable key, got %q vs %q", k1, k2)
	}
	if k1[:len(SourceLCD)+1] != "LCD_UPDATES_" {
		t.Fatalf("expected key to start with LCD_UPDATES_, got %q", k1)
	}

	other := PolicyKey(SourceNCD, "Spinal Fusion Coverage")
	if other == k1 {
		t.Fatalf("expected different sources to produce different keys")
	}
}

func TestManagerShouldSync(t *testing.T) {
	st := newFakePolicyStore()
	m := NewManager(st, nil, nil, nil)

	should, err := m.ShouldSync(context.Background(), SourceMLNMatters, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !should {
		t.Fatalf("expected sync due for never-synced source")
	}

	st.lastSync[string(SourceMLNMatters)] = time.Now().UTC().Format(time.RFC3339)
	should, err = m.ShouldSync(context.Background(), SourceMLNMatters, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if should {
		t.Fatalf("expected sync not due immediately after a fresh sync")
	}

	st.lastSync[string(SourceMLNMatters)] = time.Now().UTC().Add(-7 * time.Hour).Format(time.RFC3339)
	should, err = m.ShouldSync(context.Background(), SourceMLNMatters, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !should {
		t.Fatalf("expected sync due after interval elapsed")
	}
}

func TestSyncSourceAddedUpdatedSkipped(t *testing.T) {
	st := newFakePolicyStore()
	m := NewManager(st, nil, nil, nil)

	doc := Document{Content: "version one", Title: "Spinal Fusion Coverage", Source: SourceLCD}

	result := m.SyncSource(context.Background(), SourceLCD, []Document{doc}, true)
	if result.DocumentsAdded != 1 || result.DocumentsUpdated != 0 || result.DocumentsSkipped != 0 {
		t.Fatalf("expected 1 added on first sync, got %+v", result)
	}

	result = m.SyncSource(context.Background(), SourceLCD, []Document{doc}, true)
	if result.DocumentsSkipped != 1 {
		t.Fatalf("expected exact re-sync to be skipped, got %+v", result)
	}

	doc.Content = "version two, revised coverage criteria"
	result = m.SyncSource(context.Background(), SourceLCD, []Document{doc}, true)
	if result.DocumentsUpdated != 1 {
		t.Fatalf("expected changed content under the same key to count as updated, got %+v", result)
	}

	stored, err := st.GetPolicyDocByID(context.Background(), PolicyKey(SourceLCD, doc.Title))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored == nil || stored.ContentHash != contentHash(doc.Content) {
		t.Fatalf("expected stored doc to reflect latest content hash")
	}
}

func TestSyncSourceThrottled(t *testing.T) {
	st := newFakePolicyStore()
	m := NewManager(st, nil, nil, nil)
	st.lastSync[string(SourceNCCI)] = time.Now().UTC().Format(time.RFC3339)

	result := m.SyncSource(context.Background(), SourceNCCI, []Document{{Content: "x", Title: "y", Source: SourceNCCI}}, false)
	if len(result.Errors) == 0 || result.DocumentsAdded != 0 {
		t.Fatalf("expected throttled sync to be skipped without processing documents, got %+v", result)
	}

	result = m.SyncSource(context.Background(), SourceNCCI, []Document{{Content: "x", Title: "y", Source: SourceNCCI}}, true)
	if result.DocumentsAdded != 1 {
		t.Fatalf("expected force=true to bypass the throttle, got %+v", result)
	}
}

func TestSyncSourceNoFetcherConfigured(t *testing.T) {
	st := newFakePolicyStore()
	m := NewManager(st, nil, nil, nil)

	result := m.SyncSource(context.Background(), SourceIOM, nil, true)
	if result.DocumentsFound != 0 {
		t.Fatalf("expected no documents found with no fetcher configured, got %+v", result)
	}
}
