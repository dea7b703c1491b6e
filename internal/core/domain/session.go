// Package domain contains the core domain types for deploycheck.
package domain

import (
	"errors"
	"time"
)

// =============================================================================
// Session Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoInstance        = errors.New("session has no instance")
)

// =============================================================================
// Session Status
// =============================================================================

// SessionStatus is the lifecycle state of a deployment session.
type SessionStatus string

const (
	SessionBuilding      SessionStatus = "building"
	SessionStarting      SessionStatus = "starting"
	SessionRunning       SessionStatus = "running"
	SessionHealthUnknown SessionStatus = "health_unknown"
	SessionHealthy       SessionStatus = "healthy"
	SessionUnhealthy     SessionStatus = "unhealthy"
	SessionStopped       SessionStatus = "stopped"
)

// =============================================================================
// Deployment Session
// =============================================================================

// DeploymentSession represents one container instance under verification.
// At most one active session may publish a given host port.
type DeploymentSession struct {
	InstanceID string        `json:"instance_id,omitempty"`
	ImageRef   string        `json:"image_ref"`
	Port       int           `json:"port"`
	Status     SessionStatus `json:"status"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	StoppedAt  *time.Time    `json:"stopped_at,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NewSession creates a session in the building state.
func NewSession(imageRef string, port int) *DeploymentSession {
	return &DeploymentSession{
		ImageRef:  imageRef,
		Port:      port,
		Status:    SessionBuilding,
		UpdatedAt: time.Now().UTC(),
	}
}

// Active reports whether the session holds a running instance.
func (s *DeploymentSession) Active() bool {
	return s.InstanceID != "" && s.Status != SessionStopped
}

// Attach records the instance handle returned by the runtime and moves the
// session to starting.
func (s *DeploymentSession) Attach(instanceID string) error {
	if instanceID == "" {
		return ErrNoInstance
	}
	if err := s.Transition(SessionStarting); err != nil {
		return err
	}
	s.InstanceID = instanceID
	now := time.Now().UTC()
	s.StartedAt = &now
	return nil
}

// Transition attempts to move the session to a new status.
func (s *DeploymentSession) Transition(to SessionStatus) error {
	if err := ValidateSessionTransition(s.Status, to); err != nil {
		return err
	}

	s.Status = to
	s.UpdatedAt = time.Now().UTC()

	if to == SessionStopped {
		now := time.Now().UTC()
		s.StoppedAt = &now
	}
	return nil
}

// =============================================================================
// State Machine
// =============================================================================

var validSessionTransitions = map[SessionStatus][]SessionStatus{
	SessionBuilding:      {SessionStarting, SessionStopped},
	SessionStarting:      {SessionRunning, SessionHealthUnknown, SessionUnhealthy, SessionStopped},
	SessionRunning:       {SessionHealthUnknown, SessionUnhealthy, SessionStopped},
	SessionHealthUnknown: {SessionHealthy, SessionUnhealthy, SessionStopped},
	SessionHealthy:       {SessionUnhealthy, SessionStopped},
	SessionUnhealthy:     {SessionHealthy, SessionStopped},
	SessionStopped:       {}, // Terminal state
}

// ValidateSessionTransition checks if a session status transition is valid.
func ValidateSessionTransition(from, to SessionStatus) error {
	allowed, exists := validSessionTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}
