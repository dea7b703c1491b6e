package domain

import "strings"

// =============================================================================
// Integration Records
// =============================================================================

// IntegrationRecord is one credential-backed external connection found in a
// credential store. Name keeps its original case for display.
type IntegrationRecord struct {
	Name         string `json:"name" yaml:"name"`
	Connected    bool   `json:"connected" yaml:"connected"`
	ConnectionID string `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
	Source       string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Key returns the case-normalized name used for comparison.
func (r IntegrationRecord) Key() string {
	return NormalizeIntegrationName(r.Name)
}

// NormalizeIntegrationName upper-cases and trims an integration name.
func NormalizeIntegrationName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// FindIntegration returns the record whose normalized name matches name.
func FindIntegration(records []IntegrationRecord, name string) (IntegrationRecord, bool) {
	key := NormalizeIntegrationName(name)
	for _, r := range records {
		if r.Key() == key {
			return r, true
		}
	}
	return IntegrationRecord{}, false
}

// MissingIntegrations returns the expected names that are absent or not connected.
func MissingIntegrations(records []IntegrationRecord, expected []string) []string {
	var missing []string
	for _, name := range expected {
		r, ok := FindIntegration(records, name)
		if !ok || !r.Connected {
			missing = append(missing, name)
		}
	}
	return missing
}
