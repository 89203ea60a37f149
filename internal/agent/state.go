package agent

import (
	"time"

	"github.com/wabdesk/wabdesk/internal/config"
)

// Reason explains why a device is not in the valid phase. Server reasons
// (revoked, expired, seat_limit, ...) are passed through unchanged.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonExpired          Reason = "expired"
	ReasonRevoked          Reason = "revoked"
	ReasonNotActivated     Reason = "not_activated"
	ReasonValidationFailed Reason = "validation_failed"
	ReasonNetworkError     Reason = "network_error"
)

var lockMessages = map[Reason]string{
	ReasonExpired:          "Your WABDesk subscription has expired. Renew it to continue.",
	ReasonRevoked:          "This WABDesk license has been revoked. Contact your administrator.",
	ReasonNotActivated:     "This device is not activated. Enter a license key to continue.",
	ReasonValidationFailed: "WABDesk could not validate your license. Connect to the internet and try again.",
	ReasonNetworkError:     "WABDesk cannot reach the license server. Check your connection and try again.",
}

// LockMessage returns the text shown on the lock screen for reason.
func LockMessage(reason Reason) string {
	if msg, ok := lockMessages[reason]; ok {
		return msg
	}
	return lockMessages[ReasonValidationFailed]
}

// Phase is the local licensing state of the installation.
type Phase string

const (
	PhaseUnactivated Phase = "unactivated"
	PhaseValid       Phase = "valid"
	PhaseGrace       Phase = "grace_period"
	PhaseLocked      Phase = "locked"
)

// Policy holds the offline tolerances.
type Policy struct {
	// HeartbeatInterval is the expected time between successful heartbeats.
	// Past it the device enters the grace period.
	HeartbeatInterval time.Duration
	// GraceWindow is the longest the device may run without server contact.
	GraceWindow time.Duration
}

// DefaultPolicy returns the standard 24h heartbeat and 72h grace window.
func DefaultPolicy() Policy {
	return Policy{
		HeartbeatInterval: config.DefaultHeartbeatInterval,
		GraceWindow:       config.DefaultGraceWindow,
	}
}

// State is the outcome of judging a cached record.
type State struct {
	Phase  Phase
	Reason Reason
}

// Usable reports whether the application may run in this state.
func (s State) Usable() bool {
	return s.Phase == PhaseValid || s.Phase == PhaseGrace
}

// Judge derives the local state of rec at now. It has no side effects.
func Judge(rec *Record, now time.Time, p Policy) State {
	if rec == nil {
		return State{Phase: PhaseUnactivated, Reason: ReasonNotActivated}
	}
	if rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt) {
		return State{Phase: PhaseLocked, Reason: ReasonExpired}
	}
	if rec.LockedReason != ReasonNone {
		return State{Phase: PhaseLocked, Reason: rec.LockedReason}
	}

	since := now.Sub(rec.LastHeartbeat)
	switch {
	case since > p.GraceWindow:
		return State{Phase: PhaseLocked, Reason: ReasonValidationFailed}
	case since > p.HeartbeatInterval:
		return State{Phase: PhaseGrace}
	default:
		return State{Phase: PhaseValid}
	}
}
