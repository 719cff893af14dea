// Package file implements the file-based connector family (S3, SFTP, Azure
// Blob) on a shared base: glob-pattern file listing, temp-dir download,
// pluggable parsing (CSV/JSON/EDI 837), and watermark-by-modified-time
// incremental sync, optionally archiving each file after it's processed.
package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/connector/file/parsers"
	"github.com/rakunlabs/ingestcore/internal/model"
)

// Info describes one file found at the remote source.
type Info struct {
	Name       string
	Path       string
	Size       int64
	ModifiedAt time.Time
	IsDir      bool
}

// parser is implemented by every format-specific record extractor.
type parser interface {
	Parse(path string, limit int) ([]map[string]any, error)
}

// source is implemented by each concrete file connector (S3, SFTP, Azure
// Blob); base drives listing/downloading/archiving through it.
type source interface {
	listFiles(ctx context.Context, pattern string) ([]Info, error)
	downloadFile(ctx context.Context, remotePath, localPath string) error
	archiveFile(ctx context.Context, sourcePath, archivePath string) error
}

// base implements connector.Connector's DiscoverSchema/Extract/
// CurrentWatermark once for every file-family connector; each concrete
// connector only needs to implement source's three transport methods plus
// its own Connect/Disconnect/TestConnection.
type base struct {
	connector.Base
	src     source
	tempDir string
}

func newBase(connectorID, name string, config map[string]any, batchSize int, src source) base {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return base{Base: connector.NewBase(connectorID, name, config, batchSize), src: src}
}

func (b *base) getParser() (parser, error) {
	format := stringConfig(b.Config, "file_format", "csv")
	switch format {
	case "edi_837", "edi_837p", "edi_837i":
		return parsers.NewEDI837(), nil
	case "csv":
		delim := stringConfig(b.Config, "delimiter", ",")
		hasHeader := boolConfig(b.Config, "has_header", true)
		r := ','
		if len(delim) > 0 {
			r = rune(delim[0])
		}
		return parsers.NewCSV(r, hasHeader), nil
	case "json":
		return &parsers.JSON{}, nil
	default:
		return nil, &connector.Error{ConnectorID: b.ConnectorID, Op: "get_parser", Err: errUnsupportedFormat(format)}
	}
}

type errUnsupportedFormat string

func (e errUnsupportedFormat) Error() string { return "unsupported file format: " + string(e) }

func (b *base) tempDirectory() (string, error) {
	if b.tempDir != "" {
		return b.tempDir, nil
	}
	dir, err := os.MkdirTemp("", "connector_")
	if err != nil {
		return "", err
	}
	b.tempDir = dir
	return dir, nil
}

func (b *base) cleanupTempDir() {
	if b.tempDir != "" {
		os.RemoveAll(b.tempDir)
		b.tempDir = ""
	}
}

func (b *base) DiscoverSchema(ctx context.Context) (*connector.SchemaDiscoveryResult, error) {
	if !b.IsConnected() {
		return nil, &connector.Error{ConnectorID: b.ConnectorID, Op: "discover_schema", Err: errNotConnected}
	}

	pattern := stringConfig(b.Config, "path_pattern", "*")
	files, err := b.src.listFiles(ctx, pattern)
	if err != nil {
		return nil, &connector.Error{ConnectorID: b.ConnectorID, Op: "discover_schema", Err: err}
	}
	if len(files) == 0 {
		return &connector.SchemaDiscoveryResult{}, nil
	}

	sample := files[0]
	tempDir, err := b.tempDirectory()
	if err != nil {
		return nil, err
	}
	localPath := filepath.Join(tempDir, sanitizeFilename(filepath.Base(sample.Name)))
	defer os.Remove(localPath)

	if err := b.src.downloadFile(ctx, sample.Path, localPath); err != nil {
		return nil, &connector.Error{ConnectorID: b.ConnectorID, Op: "discover_schema", Err: err}
	}

	p, err := b.getParser()
	if err != nil {
		return nil, err
	}
	records, err := p.Parse(localPath, 10)
	if err != nil {
		return nil, &connector.Error{ConnectorID: b.ConnectorID, Op: "discover_schema", Err: err}
	}

	var columns []connector.ColumnInfo
	if len(records) > 0 {
		for key, value := range records[0] {
			columns = append(columns, connector.ColumnInfo{Name: key, Type: goTypeName(value), Nullable: true})
		}
	}

	names := make([]string, 0, len(files))
	for i, f := range files {
		if i >= 20 {
			break
		}
		names = append(names, f.Name)
	}

	samples := records
	if len(samples) > 3 {
		samples = samples[:3]
	}

	return &connector.SchemaDiscoveryResult{
		Tables:     names,
		Columns:    map[string][]connector.ColumnInfo{"records": columns},
		SampleData: map[string][]map[string]any{"records": samples},
	}, nil
}

func (b *base) Extract(ctx context.Context, syncMode model.SyncMode, watermarkValue string) (<-chan connector.Batch, func() error) {
	out := make(chan connector.Batch)
	var extractErr error

	go func() {
		defer close(out)
		defer b.cleanupTempDir()

		if !b.IsConnected() {
			extractErr = &connector.Error{ConnectorID: b.ConnectorID, Op: "extract", Err: errNotConnected}
			return
		}

		pattern := stringConfig(b.Config, "path_pattern", "*")
		files, err := b.src.listFiles(ctx, pattern)
		if err != nil {
			extractErr = &connector.Error{ConnectorID: b.ConnectorID, Op: "extract", Err: err}
			return
		}

		if syncMode == model.SyncModeIncremental && watermarkValue != "" {
			if wm, err := time.Parse(time.RFC3339, watermarkValue); err == nil {
				filtered := files[:0]
				for _, f := range files {
					if !f.ModifiedAt.IsZero() && f.ModifiedAt.After(wm) {
						filtered = append(filtered, f)
					}
				}
				files = filtered
			}
		}

		sort.Slice(files, func(i, j int) bool { return files[i].ModifiedAt.Before(files[j].ModifiedAt) })

		p, err := b.getParser()
		if err != nil {
			extractErr = err
			return
		}
		tempDir, err := b.tempDirectory()
		if err != nil {
			extractErr = err
			return
		}

		archivePath := stringConfig(b.Config, "archive_path", "")
		archiveProcessed := boolConfig(b.Config, "archive_processed", false)

		for _, fileInfo := range files {
			localPath := filepath.Join(tempDir, sanitizeFilename(filepath.Base(fileInfo.Name)))

			if err := b.src.downloadFile(ctx, fileInfo.Path, localPath); err != nil {
				os.Remove(localPath)
				continue
			}

			records, err := p.Parse(localPath, 0)
			if err != nil {
				os.Remove(localPath)
				continue
			}

			batch := make(connector.Batch, 0, b.BatchSize)
			for _, record := range records {
				record["_source_file"] = fileInfo.Name
				if !fileInfo.ModifiedAt.IsZero() {
					record["_file_modified_at"] = fileInfo.ModifiedAt.Format(time.RFC3339)
				} else {
					record["_file_modified_at"] = nil
				}
				batch = append(batch, record)

				if len(batch) >= b.BatchSize {
					select {
					case out <- batch:
					case <-ctx.Done():
						extractErr = ctx.Err()
						os.Remove(localPath)
						return
					}
					batch = make(connector.Batch, 0, b.BatchSize)
				}
			}
			if len(batch) > 0 {
				select {
				case out <- batch:
				case <-ctx.Done():
					extractErr = ctx.Err()
					os.Remove(localPath)
					return
				}
			}

			if archiveProcessed && archivePath != "" {
				dest := filepath.Join(archivePath, fileInfo.Name)
				b.src.archiveFile(ctx, fileInfo.Path, dest)
			}
			os.Remove(localPath)
		}
	}()

	return out, func() error { return extractErr }
}

func (b *base) CurrentWatermark(ctx context.Context) (string, error) {
	if !b.IsConnected() {
		return "", &connector.Error{ConnectorID: b.ConnectorID, Op: "current_watermark", Err: errNotConnected}
	}

	pattern := stringConfig(b.Config, "path_pattern", "*")
	files, err := b.src.listFiles(ctx, pattern)
	if err != nil || len(files) == 0 {
		return "", nil
	}

	var newest time.Time
	for _, f := range files {
		if f.ModifiedAt.After(newest) {
			newest = f.ModifiedAt
		}
	}
	if newest.IsZero() {
		return "", nil
	}
	return newest.Format(time.RFC3339), nil
}

var errNotConnected = errNotConnectedType{}

type errNotConnectedType struct{}

func (errNotConnectedType) Error() string { return "not connected" }

func stringConfig(cfg map[string]any, key, def string) string {
	if s, ok := cfg[key].(string); ok && s != "" {
		return s
	}
	return def
}

func boolConfig(cfg map[string]any, key string, def bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

func intConfig(cfg map[string]any, key string, def int) int {
	switch n := cfg[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func goTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "string"
	default:
		return "string"
	}
}
