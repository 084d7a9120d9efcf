package core

import "errors"

var (
	// ErrNotFound is returned by repositories when the requested record does
	// not exist. Public component APIs translate it into a nil result where
	// absence is not an error.
	ErrNotFound = errors.New("not found")

	// ErrMissingWorkspace is returned when a durable operation is invoked
	// without a workspace id.
	ErrMissingWorkspace = errors.New("workspace id is required")

	// ErrUnknownMessageType is returned when publishing a message whose type
	// is not part of the closed MessageType set.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrUnknownAgent is returned when an operation references an agent that
	// is not registered.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidProfile is returned when an agent profile fails validation.
	ErrInvalidProfile = errors.New("invalid agent profile")

	// ErrTeamDissolved is returned when mutating a team that has been dissolved.
	ErrTeamDissolved = errors.New("team dissolved")

	// ErrTeamTooLarge is returned when a team exceeds the configured size bound.
	ErrTeamTooLarge = errors.New("team exceeds maximum size")

	// ErrEmptyTeam is returned when forming a team without members.
	ErrEmptyTeam = errors.New("team requires at least one agent")

	// ErrNegotiationResolved is returned when appending to or converging a
	// negotiation that already reached a terminal status.
	ErrNegotiationResolved = errors.New("negotiation already resolved")

	// ErrInvalidAcknowledgement is returned for malformed acknowledgements.
	ErrInvalidAcknowledgement = errors.New("invalid acknowledgement")

	// ErrMissingTarget is returned when an action or recommendation names no
	// target system.
	ErrMissingTarget = errors.New("target system is required")
)

// RequireWorkspace returns ErrMissingWorkspace when id is empty.
func RequireWorkspace(id string) error {
	if id == "" {
		return ErrMissingWorkspace
	}
	return nil
}
