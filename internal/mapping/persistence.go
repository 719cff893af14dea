package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/rakunlabs/ingestcore/internal/model"
)

// Store is the persistence facet the Registry depends on.
type Store interface {
	ListMappings(ctx context.Context, sourceSchemaID string) ([]model.SchemaMapping, error)
	GetLatestMapping(ctx context.Context, sourceSchemaID string) (*model.SchemaMapping, error)
	CreateMapping(ctx context.Context, m model.SchemaMapping) (*model.SchemaMapping, error)
	UpdateMappingStatus(ctx context.Context, id string, status model.MappingStatus, actor string) (*model.SchemaMapping, error)
	AppendMappingAudit(ctx context.Context, mappingID string, entry model.MappingAuditEntry) error
}

// Registry manages the lifecycle of schema mapping decisions: every save
// creates a new pending version, approve/reject transition it, and every
// transition appends to the audit trail.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Save persists result's field mappings as a new pending version for
// sourceSchemaID.
func (r *Registry) Save(ctx context.Context, sourceSchemaID string, result *Result, actor string) (*model.SchemaMapping, error) {
	fieldMappings := make([]model.FieldMapping, 0, len(result.Mappings))
	for _, m := range result.Mappings {
		fieldMappings = append(fieldMappings, model.FieldMapping{
			SourceField: m.SourceField,
			TargetField: m.TargetField,
			Confidence:  m.Confidence,
			Method:      m.Method,
			Reasoning:   m.Reasoning,
		})
	}

	mapping, err := r.store.CreateMapping(ctx, model.SchemaMapping{
		SourceSchemaID: sourceSchemaID,
		FieldMappings:  fieldMappings,
		Status:         model.MappingPending,
		CreatedBy:      actor,
	})
	if err != nil {
		return nil, fmt.Errorf("save mapping for %q: %w", sourceSchemaID, err)
	}

	if err := r.store.AppendMappingAudit(ctx, mapping.ID, model.MappingAuditEntry{
		Action:    "created",
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Details:   map[string]any{"source_schema_id": sourceSchemaID, "version": mapping.Version, "field_count": len(fieldMappings)},
	}); err != nil {
		return nil, fmt.Errorf("audit mapping creation %q: %w", mapping.ID, err)
	}

	return mapping, nil
}

// Approve transitions a mapping to approved and appends an audit entry.
func (r *Registry) Approve(ctx context.Context, id, actor string) (*model.SchemaMapping, error) {
	mapping, err := r.store.UpdateMappingStatus(ctx, id, model.MappingApproved, actor)
	if err != nil {
		return nil, fmt.Errorf("approve mapping %q: %w", id, err)
	}

	if err := r.store.AppendMappingAudit(ctx, id, model.MappingAuditEntry{
		Action: "approved", Actor: actor, Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("audit mapping approval %q: %w", id, err)
	}

	return mapping, nil
}

// Reject transitions a mapping to rejected, recording reason if given.
func (r *Registry) Reject(ctx context.Context, id, actor, reason string) (*model.SchemaMapping, error) {
	mapping, err := r.store.UpdateMappingStatus(ctx, id, model.MappingRejected, actor)
	if err != nil {
		return nil, fmt.Errorf("reject mapping %q: %w", id, err)
	}

	if err := r.store.AppendMappingAudit(ctx, id, model.MappingAuditEntry{
		Action: "rejected", Actor: actor, Timestamp: time.Now().UTC(),
		Details: map[string]any{"reason": reason},
	}); err != nil {
		return nil, fmt.Errorf("audit mapping rejection %q: %w", id, err)
	}

	return mapping, nil
}

// Current returns the latest approved mapping for sourceSchemaID, or nil if
// none has been approved yet.
func (r *Registry) Current(ctx context.Context, sourceSchemaID string) (*model.SchemaMapping, error) {
	mappings, err := r.store.ListMappings(ctx, sourceSchemaID)
	if err != nil {
		return nil, fmt.Errorf("list mappings for %q: %w", sourceSchemaID, err)
	}

	for _, m := range mappings {
		if m.Status == model.MappingApproved {
			return &m, nil
		}
	}

	return nil, nil
}
