package world

import "fmt"

// RecordedJoin is a join applied at a tick boundary.
type RecordedJoin struct {
	ID     PlayerID `json:"id"`
	Name   string   `json:"name"`
	Avatar uint8    `json:"avatar,omitempty"`
	Team   Team     `json:"team,omitempty"`
}

// RecordedInput is the one input consumed for a player in a tick.
type RecordedInput struct {
	ID    PlayerID `json:"id"`
	Input Input    `json:"input"`
}

// TickLogEntry records everything that went into one tick, plus the digest
// of the state it produced. Feeding the entries back through Advance from the
// same map and tuning reproduces every digest.
type TickLogEntry struct {
	Tick   uint64          `json:"tick"`
	Joins  []RecordedJoin  `json:"joins,omitempty"`
	Leaves []PlayerID      `json:"leaves,omitempty"`
	Inputs []RecordedInput `json:"inputs,omitempty"`
	Digest string          `json:"digest"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// Advance applies the leaves and joins of e at the boundary of w's tick, then
// steps the world with e's inputs. w itself is left untouched; join and leave
// events come first in the result's Events.
func Advance(w *World, e *TickLogEntry) (*World, error) {
	if e.Tick != w.Tick {
		return nil, fmt.Errorf("world: entry for tick %d applied at tick %d", e.Tick, w.Tick)
	}
	cur := w.Clone()
	for _, id := range e.Leaves {
		cur.Leave(id)
	}
	for i := range e.Joins {
		j := &e.Joins[i]
		p, err := cur.Join(j.ID, j.Name, j.Avatar, j.Team)
		if err != nil {
			return nil, err
		}
		j.Team = p.Team
	}
	var inputs map[PlayerID]Input
	if len(e.Inputs) > 0 {
		inputs = make(map[PlayerID]Input, len(e.Inputs))
		for _, ri := range e.Inputs {
			inputs[ri.ID] = ri.Input
		}
	}
	lifecycle := cur.Events
	next := Step(cur, inputs)
	next.Events = append(lifecycle, next.Events...)
	return next, nil
}
