// Package connector defines the transport-agnostic interface every data
// source connector implements — database, API, and file — plus the
// registry that instantiates one from a persisted model.Connector.
package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/rakunlabs/ingestcore/internal/model"
)

// Error wraps a connector failure with the connector that raised it.
type Error struct {
	ConnectorID string
	Op          string
	Err         error
}

func (e *Error) Error() string {
	if e.ConnectorID == "" {
		return fmt.Sprintf("connector %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connector %s %s: %v", e.ConnectorID, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(connectorID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{ConnectorID: connectorID, Op: op, Err: err}
}

// ConnectionTestResult is the outcome of TestConnection.
type ConnectionTestResult struct {
	Success   bool
	Message   string
	LatencyMS float64
	Details   map[string]any
}

// SchemaDiscoveryResult describes the tables/resources a connector can see,
// their columns, and a small sample of rows for each.
type SchemaDiscoveryResult struct {
	Tables     []string
	Columns    map[string][]ColumnInfo
	SampleData map[string][]map[string]any
}

// ColumnInfo describes one discovered column or field.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
}

// Batch is one extracted chunk of records, sized to the connector's
// configured batch size.
type Batch = []map[string]any

// Connector is the interface every data source implementation satisfies.
// Extract streams batches onto a channel rather than returning an iterator,
// since Go has no generator syntax; callers range over the channel until it
// closes and then call the returned error func for a mid-stream failure.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	TestConnection(ctx context.Context) (*ConnectionTestResult, error)
	DiscoverSchema(ctx context.Context) (*SchemaDiscoveryResult, error)

	// Extract streams extracted data onto the returned channel. The channel
	// is closed when extraction finishes or ctx is cancelled; the returned
	// error func reports any extraction error observed after the channel
	// closes.
	Extract(ctx context.Context, syncMode model.SyncMode, watermarkValue string) (<-chan Batch, func() error)

	CurrentWatermark(ctx context.Context) (string, error)

	IsConnected() bool
}

// Base holds the fields and bookkeeping shared by every connector
// implementation, mirroring the common constructor arguments of the
// original connector base class.
type Base struct {
	ConnectorID string
	Name        string
	Config      map[string]any
	BatchSize   int

	connected bool
}

func NewBase(connectorID, name string, config map[string]any, batchSize int) Base {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return Base{ConnectorID: connectorID, Name: name, Config: config, BatchSize: batchSize}
}

func (b *Base) IsConnected() bool { return b.connected }

// MarkConnected records the connector's connection state; concrete
// implementations call it after a successful Connect and on Disconnect so
// IsConnected reflects reality without each one tracking its own bool.
func (b *Base) MarkConnected(v bool) { b.connected = v }

// configString reads a string config value, returning "" if absent or of
// the wrong type.
func (b *Base) configString(key string) string {
	v, ok := b.Config[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (b *Base) configStringDefault(key, def string) string {
	if s := b.configString(key); s != "" {
		return s
	}
	return def
}

func (b *Base) configInt(key string, def int) int {
	v, ok := b.Config[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func (b *Base) configBool(key string, def bool) bool {
	v, ok := b.Config[key]
	if !ok {
		return def
	}
	bv, ok := v.(bool)
	if !ok {
		return def
	}
	return bv
}

// elapsedMS is a small helper so every TestConnection implementation reports
// latency the same way.
func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
