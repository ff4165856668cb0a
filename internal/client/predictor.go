// Package client holds the player-side half of the sync core: local
// prediction with reconciliation, remote interpolation and the websocket
// connection.
package client

import (
	"voxarena.gg/internal/sim/snapcodec"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
	"voxarena.gg/internal/sim/world"
)

// Predictor runs the local player ahead of the server. Every input is
// stepped immediately and buffered until a snapshot confirms it; each new
// snapshot replaces the prediction and replays what is still unconfirmed.
type Predictor struct {
	id     world.PlayerID
	m      *voxel.Map
	tuning tuning.Tuning

	confirmed *snapcodec.Snapshot
	predicted *world.World
	pending   []world.Input
	seq       uint32

	// Correction is how far the local player moved when the last snapshot
	// was reconciled. Zero means the prediction was right.
	Correction float64
	// Rejected counts snapshots dropped because they do not fit the tuning.
	Rejected int
}

// NewPredictor starts from baseline, which the caller has checked with
// Snapshot.Validate.
func NewPredictor(id world.PlayerID, m *voxel.Map, t tuning.Tuning, baseline *snapcodec.Snapshot) *Predictor {
	p := &Predictor{id: id, m: m, tuning: t, confirmed: baseline}
	p.predicted = baseline.ToWorld(m, t)
	if me, ok := baseline.Player(id); ok {
		p.seq = me.LastSeq
	}
	return p
}

func (p *Predictor) ID() world.PlayerID             { return p.id }
func (p *Predictor) Confirmed() *snapcodec.Snapshot { return p.confirmed }
func (p *Predictor) Predicted() *world.World        { return p.predicted }
func (p *Predictor) Pending() []world.Input         { return append([]world.Input(nil), p.pending...) }

func (p *Predictor) Local() (*world.PlayerState, bool) {
	me, ok := p.predicted.Players[p.id]
	return me, ok
}

// Apply samples one input, steps the prediction by it and buffers it for
// replay. The caller sends the returned input to the server.
func (p *Predictor) Apply(buttons world.Buttons, dyaw, dpitch int16, weapon uint8) world.Input {
	p.seq++
	in := world.Input{
		Seq:     p.seq,
		Tick:    p.predicted.Tick,
		Buttons: buttons,
		DYaw:    dyaw,
		DPitch:  dpitch,
		Weapon:  weapon,
	}
	p.predicted = world.Step(p.predicted, map[world.PlayerID]world.Input{p.id: in})
	p.pending = append(p.pending, in)
	return in
}

// OnSnapshot reconciles against an authoritative snapshot. Snapshots not
// newer than the confirmed one, or naming weapons the tuning lacks, are
// ignored and false is returned.
func (p *Predictor) OnSnapshot(s *snapcodec.Snapshot) bool {
	if s.Tick <= p.confirmed.Tick {
		return false
	}
	if err := s.Validate(p.tuning); err != nil {
		p.Rejected++
		return false
	}
	// Step never mutates its input, so before stays valid.
	before, hadBefore := p.predicted.Players[p.id]

	p.confirmed = s
	me, ok := s.Player(p.id)
	kept := p.pending[:0]
	if ok {
		for _, in := range p.pending {
			if in.Seq > me.LastSeq {
				kept = append(kept, in)
			}
		}
	}
	p.pending = kept

	w := s.ToWorld(p.m, p.tuning)
	for _, in := range p.pending {
		w = world.Step(w, map[world.PlayerID]world.Input{p.id: in})
	}
	p.predicted = w

	p.Correction = 0
	if after, ok := w.Players[p.id]; ok && hadBefore {
		p.Correction = after.Pos.Dist(before.Pos)
	}
	return true
}
