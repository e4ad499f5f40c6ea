package events

// Event types published by the host.
const (
	// TypeRequestServed follows every request the gateway answered.
	TypeRequestServed = "gateway.request"
	// TypeRemoteGone fires once when the presentation process stops answering.
	TypeRemoteGone = "gateway.remote_gone"
	// TypeResultProcessed carries the result of one processed pair.
	TypeResultProcessed = "result.processed"
	// TypeSignal carries a named signal raised through emit.
	TypeSignal = "service.signal"
)

// Event types published by the presentation process.
const (
	TypeItemAdded         = "model.item_added"
	TypeItemUpdated       = "model.item_updated"
	TypeModelReset        = "model.reset"
	TypeTranscriptAppend  = "model.transcript"
	TypeStateEntered      = "controller.state_entered"
	TypeControllerMessage = "controller.message"
)

// RequestServed is the payload of TypeRequestServed.
type RequestServed struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// StateEntered is the payload of TypeStateEntered.
type StateEntered struct {
	Region string `json:"region"`
	State  string `json:"state"`
}
