package credentials

import (
	"testing"

	"github.com/artpar/deploycheck/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Keyed Shape Tests
// =============================================================================

func TestParse_KeyedShape(t *testing.T) {
	data := []byte(`{"TWITTER":{"connected":true,"connection_id":"abc"}}`)

	records, err := Parse(data, "composio_oauth.json")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "TWITTER", records[0].Name)
	assert.True(t, records[0].Connected)
	assert.Equal(t, "abc", records[0].ConnectionID)
	assert.Equal(t, "composio_oauth.json", records[0].Source)
}

func TestParse_KeyedShape_BooleanValues(t *testing.T) {
	records, err := Parse([]byte(`{"github": true, "slack": false}`), "")
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "github", records[0].Name)
	assert.True(t, records[0].Connected)
	assert.Equal(t, "slack", records[1].Name)
	assert.False(t, records[1].Connected)
}

func TestParse_KeyedShape_MissingFlagMeansNotConnected(t *testing.T) {
	records, err := Parse([]byte(`{"LINKEDIN":{"connection_id":"x"}}`), "")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.False(t, records[0].Connected)
}

// =============================================================================
// List Shape Tests
// =============================================================================

func TestParse_ListShape(t *testing.T) {
	data := []byte(`[
		{"app_name": "twitter", "status": "ACTIVE", "id": "c-1"},
		{"app_name": "LinkedIn", "status": "EXPIRED", "id": "c-2"},
		{"appName": "github", "connected": true},
		{"status": "ACTIVE"}
	]`)

	records, err := Parse(data, "oauth_tokens.json")
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "github", records[0].Name)
	assert.True(t, records[0].Connected)
	assert.Equal(t, "LinkedIn", records[1].Name)
	assert.False(t, records[1].Connected)
	assert.Equal(t, "twitter", records[2].Name)
	assert.True(t, records[2].Connected)
	assert.Equal(t, "c-1", records[2].ConnectionID)
}

func TestParse_ListShape_PresenceMeansConnected(t *testing.T) {
	records, err := Parse([]byte(`[{"app_name":"TWITTER"}]`), "")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.True(t, records[0].Connected)
}

func TestParse_ListShape_Wrapped(t *testing.T) {
	records, err := Parse([]byte(`{"items":[{"app_name":"TWITTER","connected":true}]}`), "")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "TWITTER", records[0].Name)
}

func TestParse_ListShape_DuplicateKeepsFirst(t *testing.T) {
	data := []byte(`[{"app_name":"twitter","id":"first"},{"app_name":"TWITTER","id":"second"}]`)

	records, err := Parse(data, "")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "first", records[0].ConnectionID)
}

// =============================================================================
// Shape Invariance Tests
// =============================================================================

func TestParse_ShapeInvariance(t *testing.T) {
	tests := []struct {
		name  string
		list  string
		keyed string
	}{
		{
			name:  "single connected",
			list:  `[{"app_name":"TWITTER","connected":true,"connection_id":"abc"}]`,
			keyed: `{"TWITTER":{"connected":true,"connection_id":"abc"}}`,
		},
		{
			name:  "mixed",
			list:  `[{"app_name":"SLACK","connected":false},{"app_name":"GITHUB","connected":true,"connection_id":"g"}]`,
			keyed: `{"GITHUB":{"connected":true,"connection_id":"g"},"SLACK":{"connected":false}}`,
		},
		{
			name:  "status strings",
			list:  `[{"app_name":"TWITTER","status":"active"}]`,
			keyed: `{"TWITTER":{"status":"ACTIVE"}}`,
		},
		{
			name:  "empty",
			list:  `[]`,
			keyed: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fromList, err := Parse([]byte(tt.list), "")
			require.NoError(t, err)
			fromKeyed, err := Parse([]byte(tt.keyed), "")
			require.NoError(t, err)

			assert.Equal(t, fromKeyed, fromList)
		})
	}
}

// =============================================================================
// Error Tests
// =============================================================================

func TestParse_EmptyContent(t *testing.T) {
	records, err := Parse([]byte("  \n"), "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		expected error
	}{
		{"not json", `{"TWITTER": `, ErrInvalidJSON},
		{"plain text", `connected=true`, ErrInvalidJSON},
		{"scalar", `42`, ErrUnrecognizedShape},
		{"string value", `{"TWITTER":"yes"}`, ErrUnrecognizedShape},
		{"list of strings", `["TWITTER"]`, ErrUnrecognizedShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "store.json")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)
			assert.ErrorIs(t, err, domain.ErrCredentialParse)
			assert.Equal(t, "CredentialParseError", domain.ErrorKind(err))
		})
	}
}

func TestParseError_Message(t *testing.T) {
	err := NewParseError("store.json", "TWITTER", "bad value", ErrUnrecognizedShape)
	assert.Equal(t, "store.json TWITTER: bad value", err.Error())

	err = NewParseError("", "", "bad", ErrInvalidJSON)
	assert.Equal(t, "bad", err.Error())
}

// =============================================================================
// Merge Tests
// =============================================================================

func TestMerge_EarlierStoreWins(t *testing.T) {
	first := []domain.IntegrationRecord{{Name: "TWITTER", Connected: true, Source: "a.json"}}
	second := []domain.IntegrationRecord{
		{Name: "twitter", Connected: false, Source: "b.json"},
		{Name: "GITHUB", Connected: true, Source: "b.json"},
	}

	merged, shadowed := Merge(first, second)

	require.Len(t, merged, 2)
	assert.Equal(t, "GITHUB", merged[0].Name)
	assert.Equal(t, "TWITTER", merged[1].Name)
	assert.Equal(t, "a.json", merged[1].Source)
	assert.Equal(t, []string{"twitter"}, shadowed)
}

func TestMerge_Nothing(t *testing.T) {
	merged, shadowed := Merge()
	assert.Empty(t, merged)
	assert.Empty(t, shadowed)
}
