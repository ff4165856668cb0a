package server

import (
	"voxarena.gg/internal/protocol"
	"voxarena.gg/internal/sim/world"
)

type State int32

const (
	StateListening State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// JoinRequest is queued by a transport and answered on Resp (buffered, 1)
// at the next tick boundary.
type JoinRequest struct {
	Msg  protocol.JoinMsg
	Out  chan []byte
	Resp chan JoinResponse
}

// JoinResponse carries exactly one of Welcome or Refuse.
type JoinResponse struct {
	Welcome *protocol.WelcomeMsg
	Refuse  *protocol.RefuseMsg
}

func (r JoinResponse) PlayerID() world.PlayerID {
	if r.Welcome == nil {
		return 0
	}
	return world.PlayerID(r.Welcome.PlayerID)
}

// Inbound is one decoded client message for an admitted player.
type Inbound struct {
	ID   world.PlayerID
	Kind protocol.Kind
	// Input is set for KindInput.
	Input protocol.InputMsg
	// AckTick is set for KindHeartbeat.
	AckTick uint64
	// Malformed marks a frame that failed to decode; it only counts.
	Malformed bool
}

// Indexer receives the read-model side of the match. Implementations must
// not block the tick.
type Indexer interface {
	SessionOpened(tick uint64, id world.PlayerID, token, name string)
	SessionClosed(tick uint64, id world.PlayerID, reason string)
	Kills(tick uint64, events []world.Event)
}

type Metrics struct {
	Tick     uint64 `json:"tick"`
	State    string `json:"state"`
	Players  int    `json:"players"`
	Sessions int    `json:"sessions"`

	StepMS float64 `json:"step_ms"`

	QueueDepths QueueDepths `json:"queue_depths"`

	FullSnapshots  uint64 `json:"full_snapshots"`
	DeltaSnapshots uint64 `json:"delta_snapshots"`
	FramesDropped  uint64 `json:"frames_dropped"`
	InputsDropped  uint64 `json:"inputs_dropped"`
	Malformed      uint64 `json:"malformed"`
	Timeouts       uint64 `json:"timeouts"`
	Refused        uint64 `json:"refused"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}
