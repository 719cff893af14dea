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

// REST implements a generic REST API connector: configurable pagination
// (none, offset, page, cursor, link_header), dot-path data extraction via
// gjson, and sample-based schema discovery.
type REST struct {
	*base
}

// NewREST builds a generic REST API connector.
func NewREST(connectorID, name string, config map[string]any, batchSize int) (connector.Connector, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &REST{base: newBase(connectorID, name, config, batchSize)}, nil
}

func (r *REST) TestConnection(ctx context.Context) (*connector.ConnectionTestResult, error) {
	result, err := r.base.TestConnection(ctx)
	if err != nil || !result.Success {
		return result, err
	}

	endpoint := r.configString("endpoint", "/")
	data, _, err := r.get(ctx, endpoint, url.Values{"limit": {"1"}})
	if err != nil {
		if result.Details == nil {
			result.Details = map[string]any{}
		}
		result.Details["endpoint_warning"] = truncate(err.Error(), 100)
		return result, nil
	}

	records := r.extractRecords(data, r.configString("data_path", ""))
	if result.Details == nil {
		result.Details = map[string]any{}
	}
	result.Details["endpoint"] = endpoint
	result.Details["sample_records"] = len(records)
	return result, nil
}

func (r *REST) Extract(ctx context.Context, syncMode model.SyncMode, watermarkValue string) (<-chan connector.Batch, func() error) {
	out := make(chan connector.Batch)
	var extractErr error

	go func() {
		defer close(out)

		if !r.IsConnected() {
			if err := r.Connect(ctx); err != nil {
				extractErr = err
				return
			}
		}

		endpoint := r.configString("endpoint", "/")
		paginationType := r.configString("pagination_type", "none")
		limitParam := r.configString("limit_param", "limit")
		dataPath := r.configString("data_path", "")

		params := url.Values{limitParam: {strconv.Itoa(r.BatchSize)}}
		if syncMode == model.SyncModeIncremental && watermarkValue != "" {
			watermarkParam := r.configString("watermark_param", "since")
			params.Set(watermarkParam, watermarkValue)
		}
		if static, ok := r.Config["params"].(map[string]any); ok {
			for k, v := range static {
				params.Set(k, fmt.Sprint(v))
			}
		}

		emit := func(records []map[string]any) bool {
			select {
			case out <- records:
				return true
			case <-ctx.Done():
				extractErr = ctx.Err()
				return false
			}
		}

		total := 0
		switch paginationType {
		case "offset":
			offsetParam := r.configString("pagination_param", "offset")
			offset := 0
			for {
				params.Set(offsetParam, strconv.Itoa(offset))
				data, _, err := r.get(ctx, endpoint, params)
				if err != nil {
					extractErr = err
					return
				}
				records := r.extractRecords(data, dataPath)
				if len(records) == 0 {
					break
				}
				if !emit(records) {
					return
				}
				total += len(records)
				offset += len(records)

				if totalPath := r.configString("total_path", ""); totalPath != "" {
					if n, ok := gjson.GetBytes(data, totalPath).Value().(float64); ok && offset >= int(n) {
						break
					}
				}
				if len(records) < r.BatchSize {
					break
				}
			}

		case "page":
			pageParam := r.configString("pagination_param", "page")
			page := 1
			for {
				params.Set(pageParam, strconv.Itoa(page))
				data, _, err := r.get(ctx, endpoint, params)
				if err != nil {
					extractErr = err
					return
				}
				records := r.extractRecords(data, dataPath)
				if len(records) == 0 {
					break
				}
				if !emit(records) {
					return
				}
				total += len(records)
				page++
				if len(records) < r.BatchSize {
					break
				}
			}

		case "cursor":
			cursorParam := r.configString("pagination_param", "cursor")
			nextCursorPath := r.configString("next_cursor_path", "next_cursor")
			var cursor string
			for {
				if cursor != "" {
					params.Set(cursorParam, cursor)
				}
				data, _, err := r.get(ctx, endpoint, params)
				if err != nil {
					extractErr = err
					return
				}
				records := r.extractRecords(data, dataPath)
				if len(records) == 0 {
					break
				}
				if !emit(records) {
					return
				}
				total += len(records)

				cursor = gjson.GetBytes(data, nextCursorPath).String()
				if cursor == "" {
					break
				}
			}

		case "link_header":
			next := endpoint
			first := true
			for next != "" {
				var p url.Values
				if first {
					p = params
				}
				first = false

				data, header, err := r.get(ctx, next, p)
				if err != nil {
					extractErr = err
					return
				}
				records := r.extractRecords(data, dataPath)
				if len(records) == 0 {
					break
				}
				if !emit(records) {
					return
				}
				total += len(records)
				next = parseLinkHeader(header.Get("Link"))
			}

		default:
			data, _, err := r.get(ctx, endpoint, params)
			if err != nil {
				extractErr = err
				return
			}
			records := r.extractRecords(data, dataPath)
			if len(records) > 0 {
				emit(records)
				total += len(records)
			}
		}
	}()

	return out, func() error { return extractErr }
}

// extractRecords pulls a list of record objects out of a raw JSON response,
// walking data_path first if one is configured. A single object root is
// treated as a one-record result, matching the loose Python behavior.
func (r *REST) extractRecords(data []byte, dataPath string) []map[string]any {
	result := gjson.ParseBytes(data)
	if dataPath != "" {
		result = result.Get(dataPath)
	}

	if !result.Exists() {
		return nil
	}

	if result.IsArray() {
		var out []map[string]any
		result.ForEach(func(_, value gjson.Result) bool {
			if value.IsObject() {
				out = append(out, toMap(value))
			}
			return true
		})
		return out
	}
	if result.IsObject() {
		return []map[string]any{toMap(result)}
	}
	return nil
}

func toMap(result gjson.Result) map[string]any {
	out := map[string]any{}
	result.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.Value()
		return true
	})
	return out
}


// parseLinkHeader extracts the rel="next" URL from an RFC 5988 Link header.
func parseLinkHeader(header string) string {
	if header == "" {
		return ""
	}
	for _, link := range strings.Split(header, ",") {
		parts := strings.Split(strings.TrimSpace(link), ";")
		if len(parts) < 2 {
			continue
		}
		target := strings.TrimSpace(parts[0])
		target = strings.TrimPrefix(target, "<")
		target = strings.TrimSuffix(target, ">")

		for _, p := range parts[1:] {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == `rel="next"` || p == "rel=next" {
				return target
			}
		}
	}
	return ""
}

func (r *REST) DiscoverSchema(ctx context.Context) (*connector.SchemaDiscoveryResult, error) {
	if !r.IsConnected() {
		if err := r.Connect(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := r.configString("endpoint", "/")
	limitParam := r.configString("limit_param", "limit")
	dataPath := r.configString("data_path", "")

	data, _, err := r.get(ctx, endpoint, url.Values{limitParam: {"10"}})
	if err != nil {
		return nil, &connector.Error{ConnectorID: r.ConnectorID, Op: "discover_schema", Err: err}
	}

	records := r.extractRecords(data, dataPath)
	if len(records) == 0 {
		return &connector.SchemaDiscoveryResult{}, nil
	}

	type fieldInfo struct {
		types   map[string]bool
		nullable bool
		samples []string
	}
	fields := map[string]*fieldInfo{}
	var order []string

	for _, record := range records {
		for key, value := range record {
			f, ok := fields[key]
			if !ok {
				f = &fieldInfo{types: map[string]bool{}}
				fields[key] = f
				order = append(order, key)
			}
			switch v := value.(type) {
			case nil:
				f.nullable = true
			case string:
				f.types["string"] = true
				if len(f.samples) < 3 {
					f.samples = append(f.samples, truncate(v, 50))
				}
			case bool:
				f.types["boolean"] = true
				if len(f.samples) < 3 {
					f.samples = append(f.samples, fmt.Sprint(v))
				}
			case float64:
				if v == float64(int64(v)) {
					f.types["integer"] = true
				} else {
					f.types["number"] = true
				}
				if len(f.samples) < 3 {
					f.samples = append(f.samples, fmt.Sprint(v))
				}
			case []any:
				f.types["array"] = true
			case map[string]any:
				f.types["object"] = true
			}
		}
	}

	columns := make([]connector.ColumnInfo, 0, len(order))
	for _, name := range order {
		f := fields[name]
		columns = append(columns, connector.ColumnInfo{Name: name, Type: inferType(f.types), Nullable: f.nullable})
	}

	return &connector.SchemaDiscoveryResult{
		Tables:     []string{endpoint},
		Columns:    map[string][]connector.ColumnInfo{endpoint: columns},
		SampleData: map[string][]map[string]any{endpoint: records},
	}, nil
}

func inferType(types map[string]bool) string {
	delete(types, "null")
	if len(types) == 0 {
		return "string"
	}
	if len(types) == 1 {
		for t := range types {
			return t
		}
	}
	if types["integer"] && types["number"] && len(types) == 2 {
		return "number"
	}
	return "string"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
