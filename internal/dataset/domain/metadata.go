package domain

import "gorm.io/datatypes"

// MergeMetadata shallow-merges incoming over existing. jobIds is the union of
// both sides with empties dropped; a non-empty incoming jobId wins.
func MergeMetadata(existing, incoming map[string]any) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}

	var union []string
	seen := map[string]struct{}{}
	for _, src := range [][]string{stringSlice(existing["jobIds"]), stringSlice(incoming["jobIds"])} {
		for _, id := range src {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			union = append(union, id)
		}
	}
	if len(union) > 0 {
		merged["jobIds"] = union
	} else {
		delete(merged, "jobIds")
	}

	if id, ok := incoming["jobId"].(string); ok && id != "" {
		merged["jobId"] = id
	} else if prev, ok := existing["jobId"]; ok {
		merged["jobId"] = prev
	}
	return merged
}

// stringSlice reads []string or a JSON-decoded []any, dropping empties.
func stringSlice(v any) []string {
	var out []string
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			if s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
