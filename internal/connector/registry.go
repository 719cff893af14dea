package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rakunlabs/ingestcore/internal/model"
)

// Factory builds a Connector instance from a persisted connector's fields.
// config has already had secrets injected back in by the credential manager.
type Factory func(connectorID, name string, config map[string]any, batchSize int) (Connector, error)

// TypeInfo describes one registered connector subtype for discovery UIs.
type TypeInfo struct {
	Type                model.ConnectorType
	Subtype             model.ConnectorSubtype
	Name                string
	Description         string
	SupportedDataTypes  []model.DataType
}

// Registry maps connector subtypes to factories, mirroring the Python
// registry's register/create_connector pattern as a concurrency-safe Go type.
type Registry struct {
	mu        sync.RWMutex
	factories map[model.ConnectorSubtype]Factory
	typeInfo  map[model.ConnectorSubtype]TypeInfo
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[model.ConnectorSubtype]Factory),
		typeInfo:  make(map[model.ConnectorSubtype]TypeInfo),
	}
}

func (r *Registry) Register(subtype model.ConnectorSubtype, factory Factory, info TypeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[subtype] = factory
	r.typeInfo[subtype] = info
}

func (r *Registry) Unregister(subtype model.ConnectorSubtype) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, subtype)
	delete(r.typeInfo, subtype)
}

func (r *Registry) IsRegistered(subtype model.ConnectorSubtype) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[subtype]
	return ok
}

// Create instantiates a connector for subtype. config must already have
// secrets injected; Create itself does not touch the credential store.
func (r *Registry) Create(subtype model.ConnectorSubtype, connectorID, name string, config map[string]any, batchSize int) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[subtype]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for subtype %q", subtype)
	}
	return factory(connectorID, name, config, batchSize)
}

func (r *Registry) TypeInfo(subtype model.ConnectorSubtype) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.typeInfo[subtype]
	return info, ok
}

func (r *Registry) ListTypes() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeInfo, 0, len(r.typeInfo))
	for _, info := range r.typeInfo {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subtype < out[j].Subtype })
	return out
}

func (r *Registry) ListTypesByCategory(connectorType model.ConnectorType) []TypeInfo {
	all := r.ListTypes()
	out := make([]TypeInfo, 0, len(all))
	for _, info := range all {
		if info.Type == connectorType {
			out = append(out, info)
		}
	}
	return out
}
