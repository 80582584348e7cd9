package app

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrMalformedDatasetIDs = errors.New("dataset_ids must be a JSON string array or a comma-separated list")

// ParseDatasetIDs normalizes the selected-dataset field, which callers send in
// several shapes. Precedence: a JSON string (or number) array is tried first;
// anything not shaped like a JSON array falls back to a comma split, covering
// both delimited lists and single bare values. Input that looks like a JSON
// array but does not decode is rejected rather than coerced.
func ParseDatasetIDs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err == nil {
			return normalizeIDs(ids), nil
		}
		var nums []json.Number
		if err := json.Unmarshal([]byte(raw), &nums); err == nil {
			ids = make([]string, len(nums))
			for i, n := range nums {
				ids[i] = n.String()
			}
			return normalizeIDs(ids), nil
		}
		return nil, ErrMalformedDatasetIDs
	}
	return normalizeIDs(strings.Split(raw, ",")), nil
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
