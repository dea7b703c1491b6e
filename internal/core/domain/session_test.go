package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Session Lifecycle Tests
// =============================================================================

func TestNewSession(t *testing.T) {
	s := NewSession("digital-being:latest", 8000)

	assert.Equal(t, "digital-being:latest", s.ImageRef)
	assert.Equal(t, 8000, s.Port)
	assert.Equal(t, SessionBuilding, s.Status)
	assert.Empty(t, s.InstanceID)
	assert.False(t, s.Active())
}

func TestSession_Attach(t *testing.T) {
	s := NewSession("app:latest", 8000)

	require.NoError(t, s.Attach("abc123"))

	assert.Equal(t, "abc123", s.InstanceID)
	assert.Equal(t, SessionStarting, s.Status)
	assert.NotNil(t, s.StartedAt)
	assert.True(t, s.Active())
}

func TestSession_AttachEmptyHandle(t *testing.T) {
	s := NewSession("app:latest", 8000)

	err := s.Attach("")
	assert.ErrorIs(t, err, ErrNoInstance)
	assert.Equal(t, SessionBuilding, s.Status)
}

func TestSession_HealthyPath(t *testing.T) {
	s := NewSession("app:latest", 8000)
	require.NoError(t, s.Attach("abc123"))

	require.NoError(t, s.Transition(SessionRunning))
	require.NoError(t, s.Transition(SessionHealthUnknown))
	require.NoError(t, s.Transition(SessionHealthy))
	require.NoError(t, s.Transition(SessionStopped))

	assert.NotNil(t, s.StoppedAt)
	assert.False(t, s.Active())
}

func TestSession_StoppedIsTerminal(t *testing.T) {
	s := NewSession("app:latest", 8000)
	require.NoError(t, s.Transition(SessionStopped))

	err := s.Transition(SessionStarting)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, SessionStopped, s.Status)
}

func TestValidateSessionTransition(t *testing.T) {
	tests := []struct {
		from  SessionStatus
		to    SessionStatus
		valid bool
	}{
		{SessionBuilding, SessionStarting, true},
		{SessionBuilding, SessionHealthy, false},
		{SessionStarting, SessionRunning, true},
		{SessionStarting, SessionHealthUnknown, true},
		{SessionRunning, SessionHealthUnknown, true},
		{SessionHealthUnknown, SessionHealthy, true},
		{SessionHealthUnknown, SessionUnhealthy, true},
		{SessionHealthy, SessionStopped, true},
		{SessionHealthy, SessionBuilding, false},
		{SessionStopped, SessionRunning, false},
		{SessionStatus("bogus"), SessionRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateSessionTransition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}
