package credentials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/deploycheck/internal/core/domain"
)

// =============================================================================
// Store Shapes
// =============================================================================

// connectionEntry is one element of the list shape:
//
//	[{"app_name": "TWITTER", "status": "ACTIVE", "id": "abc"}]
type connectionEntry struct {
	AppName      string `json:"app_name"`
	AppNameAlt   string `json:"appName"`
	Connected    *bool  `json:"connected"`
	Status       string `json:"status"`
	ConnectionID string `json:"connection_id"`
	ID           string `json:"id"`
}

// keyedEntry is one value of the keyed shape:
//
//	{"TWITTER": {"connected": true, "connection_id": "abc"}}
type keyedEntry struct {
	Connected    *bool  `json:"connected"`
	Status       string `json:"status"`
	ConnectionID string `json:"connection_id"`
}

// listWrapperKeys hold a list-shaped store inside an object.
var listWrapperKeys = []string{"connections", "items"}

// connectedStatuses are the status values that count as connected when no
// explicit flag is present.
var connectedStatuses = map[string]bool{
	"ACTIVE":    true,
	"CONNECTED": true,
	"ENABLED":   true,
}

// =============================================================================
// Parser Functions
// =============================================================================

// Parse reads credential store content in either the list or the keyed shape
// and returns the records sorted by normalized name. Empty content is a valid,
// empty store. Duplicate names keep the first occurrence.
func Parse(data []byte, source string) ([]domain.IntegrationRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, NewParseError(source, "", "content is not valid JSON", ErrInvalidJSON)
	}

	var records []domain.IntegrationRecord
	var err error
	switch trimmed[0] {
	case '[':
		records, err = parseList(trimmed, source)
	case '{':
		records, err = parseObject(trimmed, source)
	default:
		return nil, NewParseError(source, "", "expected a JSON array or object", ErrUnrecognizedShape)
	}
	if err != nil {
		return nil, err
	}

	for i := range records {
		records[i].Source = source
	}
	return Normalize(records), nil
}

func parseList(data []byte, source string) ([]domain.IntegrationRecord, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, NewParseError(source, "", err.Error(), ErrUnrecognizedShape)
	}

	var records []domain.IntegrationRecord
	for i, raw := range entries {
		var e connectionEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, NewParseError(source, fmt.Sprintf("[%d]", i), "connection entry is not an object", ErrUnrecognizedShape)
		}

		name := e.AppName
		if name == "" {
			name = e.AppNameAlt
		}
		if strings.TrimSpace(name) == "" {
			continue // Not an integration without a name
		}

		connectionID := e.ConnectionID
		if connectionID == "" {
			connectionID = e.ID
		}

		records = append(records, domain.IntegrationRecord{
			Name:         strings.TrimSpace(name),
			Connected:    resolveConnected(e.Connected, e.Status, true),
			ConnectionID: connectionID,
		})
	}
	return records, nil
}

func parseObject(data []byte, source string) ([]domain.IntegrationRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, NewParseError(source, "", err.Error(), ErrUnrecognizedShape)
	}

	for _, key := range listWrapperKeys {
		if raw, ok := fields[key]; ok && isArray(raw) {
			return parseList(raw, source)
		}
	}

	var records []domain.IntegrationRecord
	for name, raw := range fields {
		if strings.TrimSpace(name) == "" {
			continue
		}

		value := bytes.TrimSpace(raw)
		switch {
		case len(value) > 0 && value[0] == '{':
			var e keyedEntry
			if err := json.Unmarshal(value, &e); err != nil {
				return nil, NewParseError(source, name, err.Error(), ErrUnrecognizedShape)
			}
			records = append(records, domain.IntegrationRecord{
				Name:         strings.TrimSpace(name),
				Connected:    resolveConnected(e.Connected, e.Status, false),
				ConnectionID: e.ConnectionID,
			})
		case bytes.Equal(value, []byte("true")), bytes.Equal(value, []byte("false")):
			records = append(records, domain.IntegrationRecord{
				Name:      strings.TrimSpace(name),
				Connected: value[0] == 't',
			})
		default:
			return nil, NewParseError(source, name, "integration entry must be an object or boolean", ErrUnrecognizedShape)
		}
	}
	return records, nil
}

// resolveConnected prefers the explicit flag, then the status string, then fallback.
func resolveConnected(flag *bool, status string, fallback bool) bool {
	if flag != nil {
		return *flag
	}
	if status != "" {
		return connectedStatuses[strings.ToUpper(strings.TrimSpace(status))]
	}
	return fallback
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// =============================================================================
// Normalization
// =============================================================================

// Normalize drops later duplicates by normalized name and sorts by that name.
func Normalize(records []domain.IntegrationRecord) []domain.IntegrationRecord {
	seen := make(map[string]bool, len(records))
	out := make([]domain.IntegrationRecord, 0, len(records))
	for _, r := range records {
		key := r.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Merge combines records from several stores. Stores earlier in the argument
// list take precedence; the names dropped from later stores are returned.
func Merge(stores ...[]domain.IntegrationRecord) (merged []domain.IntegrationRecord, shadowed []string) {
	seen := make(map[string]bool)
	var all []domain.IntegrationRecord
	for _, store := range stores {
		for _, r := range store {
			if seen[r.Key()] {
				shadowed = append(shadowed, r.Name)
				continue
			}
			seen[r.Key()] = true
			all = append(all, r)
		}
	}
	return Normalize(all), shadowed
}
