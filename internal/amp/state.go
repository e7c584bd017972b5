package amp

import "errors"

// ChannelState is the lifecycle state of one logical channel.
type ChannelState int

const (
	// Closed: not reserved; ignored by all playback paths.
	Closed ChannelState = iota
	// Opened: reserved by a client; the amplifier need not be powered.
	Opened
	// PendingActivation: audibility requested; waiting for warm-up.
	PendingActivation
	// Active: the chassis is warm and the channel may play audio.
	Active
	// PendingDeactivation: stopping; returns to Opened once the relay
	// demand is settled.
	PendingDeactivation
	// PendingTermination: like PendingDeactivation but ends in Closed.
	// Used for keep-alive expiry.
	PendingTermination
)

// String returns the wire word for the state.
func (s ChannelState) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Opened:
		return "Opened"
	case PendingActivation:
		return "Pending Activation"
	case Active:
		return "Active"
	case PendingDeactivation:
		return "Pending Deactivation"
	case PendingTermination:
		return "Pending Termination"
	}
	return "Unknown"
}

// State-precondition errors. Background loops never surface these; they are
// returned to the caller whose precondition failed when the lock was taken.
var (
	// ErrChannelOpened: the channel is already reserved.
	ErrChannelOpened = errors.New("channel is already opened")
	// ErrChannelClosed: the operation needs an opened channel.
	ErrChannelClosed = errors.New("channel is closed")
	// ErrChannelInactive: the operation needs an active channel.
	ErrChannelInactive = errors.New("channel is inactive")
)
