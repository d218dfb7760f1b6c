package core

const (
	EventIncomingTransfer = "INCOMING_TRANSFER"
	EventIncomingProgress = "INCOMING_TRANSFER_PROGRESS"
	EventTransferComplete = "TRANSFER_COMPLETE"
	EventIncomingFailed   = "INCOMING_TRANSFER_FAILED"

	EventOutgoingProgress = "OUTGOING_TRANSFER_PROGRESS"
	EventOutgoingRejected = "OUTGOING_TRANSFER_REJECTED"
	EventOutgoingComplete = "OUTGOING_TRANSFER_COMPLETE"
	EventOutgoingFailed   = "OUTGOING_TRANSFER_FAILED"

	EventPeerUnknown = "TRANSFER_PEER_UNKNOWN"
)

// Emitter delivers notifications to the presentation layer. Implementations
// must be safe for concurrent use and must not block for long.
type Emitter interface {
	Emit(event string, payload any)
}

type EmitterFunc func(event string, payload any)

func (f EmitterFunc) Emit(event string, payload any) {
	f(event, payload)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(string, any) {})
