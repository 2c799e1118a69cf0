package httpdoc

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// decodeRecords flattens the document store's response into a list of
// records. Backends disagree on the envelope, so all of these parse:
//
//	[{...}, {...}]                      bare array of records
//	[{"result": [...]}, ...]            per-statement result wrappers
//	{"result": [...]} or {"result": {}} single wrapper
//	{...}                               single record
//
// Empty bodies and JSON null decode to an empty list, never an error.
func decodeRecords(raw []byte) ([]map[string]any, error) {
	var value any
	if len(raw) == 0 {
		return []map[string]any{}, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errors.Wrap(err, "response is not valid json")
	}
	return flattenValue(value)
}

func flattenValue(value any) ([]map[string]any, error) {
	records := []map[string]any{}
	switch v := value.(type) {
	case nil:
		return records, nil
	case []any:
		for _, item := range v {
			sub, err := flattenValue(item)
			if err != nil {
				return nil, err
			}
			records = append(records, sub...)
		}
		return records, nil
	case map[string]any:
		if result, ok := v["result"]; ok {
			return flattenValue(result)
		}
		return append(records, v), nil
	default:
		return nil, errors.Errorf("unexpected value of type %T in response", value)
	}
}

// Field accessors. The store hands back float64 for every number, so the
// integer getters convert rather than assert.

func getString(rec map[string]any, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(rec map[string]any, key string) int64 {
	switch v := rec[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func getFloat64(rec map[string]any, key string) float64 {
	switch v := rec[key].(type) {
	case float64:
		return v
	case json.Number:
		n, _ := v.Float64()
		return n
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func getMap(rec map[string]any, key string) map[string]any {
	if v, ok := rec[key].(map[string]any); ok {
		return v
	}
	return nil
}

// remarshal moves a decoded JSON value into dst via an encode/decode
// round-trip, reusing the struct's own (un)marshal logic.
func remarshal(src any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return errors.Wrap(err, "failed to re-encode record")
	}
	return errors.Wrap(json.Unmarshal(raw, dst), "failed to decode record")
}
