package match

import (
	"encoding/json"
	"fmt"
	"iter"
	"math"

	"github.com/jensholdgaard/three-kingdoms/internal/event"
)

var eventCommands = func() map[event.Type]CommandType {
	m := make(map[event.Type]CommandType, len(commandEvents))
	for c, e := range commandEvents {
		m[e] = c
	}
	return m
}()

// Replay rebuilds a match from its event log. The log must start with a
// MatchInitialized event at seq 1 and continue without gaps; anything else
// is reported as ErrCorruption and replay stops.
func Replay(events iter.Seq2[event.Event, error]) (*Aggregate, error) {
	return ReplayTo(events, math.MaxInt64)
}

// ReplayTo is Replay stopping after seq upTo. Events appended past upTo are
// not read.
func ReplayTo(events iter.Seq2[event.Event, error], upTo int64) (*Aggregate, error) {
	var a *Aggregate
	want := int64(1)
	for e, err := range events {
		if err != nil {
			return nil, fmt.Errorf("reading events: %w", err)
		}
		if e.Seq > upTo {
			break
		}
		if e.Seq != want {
			return nil, Errorf(CodeCorruption, "match %d: event sequence gap: expected %d got %d", e.MatchID, want, e.Seq)
		}
		if a == nil {
			if a, err = replayInit(e); err != nil {
				return nil, err
			}
		} else if err := a.applyEvent(e); err != nil {
			return nil, err
		}
		a.Header.LastSeq = e.Seq
		want++
	}
	if a == nil {
		return nil, Errorf(CodeNotFound, "no events to replay")
	}
	return a, nil
}

func replayInit(e event.Event) (*Aggregate, error) {
	if e.Type != event.MatchInitialized {
		return nil, Errorf(CodeCorruption, "match %d: first event is %s", e.MatchID, e.Type)
	}
	var d event.InitializedData
	if err := json.Unmarshal(e.Payload, &d); err != nil {
		return nil, Wrap(CodeCorruption, fmt.Sprintf("match %d: decoding seq %d", e.MatchID, e.Seq), err)
	}
	h := NewHeader(d.RoomID, d.WeiPlayerID, d.ShuPlayerID, d.WuPlayerID)
	h.ID = e.MatchID
	h.ActivePlayers = d.ActivePlayers
	h.CreatedAt = e.CreatedAt
	b, err := BuildFor(h)
	if err != nil {
		return nil, Wrap(CodeCorruption, fmt.Sprintf("match %d: building initial state", e.MatchID), err)
	}
	return NewAggregate(h, b)
}

func (a *Aggregate) applyEvent(e event.Event) error {
	ct, ok := eventCommands[e.Type]
	if !ok {
		return Errorf(CodeCorruption, "match %d: unexpected %s at seq %d", e.MatchID, e.Type, e.Seq)
	}
	defer func() { a.events = nil }()

	if ct == CommandEndTurn {
		var d event.TurnEndedData
		if err := json.Unmarshal(e.Payload, &d); err != nil {
			return Wrap(CodeCorruption, fmt.Sprintf("match %d: decoding seq %d", e.MatchID, e.Seq), err)
		}
		if err := a.Execute(Kingdom(d.Actor), Command{Type: CommandEndTurn}); err != nil {
			return Wrap(CodeCorruption, fmt.Sprintf("match %d: replaying seq %d", e.MatchID, e.Seq), err)
		}
		if string(a.Header.CurrentTurn) != d.Next || a.Detail.RoundNumber != d.Round || string(a.Detail.Phase) != d.Phase {
			return Errorf(CodeCorruption, "match %d: seq %d turn state diverged", e.MatchID, e.Seq)
		}
		return nil
	}

	var d event.CommandData
	if err := json.Unmarshal(e.Payload, &d); err != nil {
		return Wrap(CodeCorruption, fmt.Sprintf("match %d: decoding seq %d", e.MatchID, e.Seq), err)
	}
	cmd := Command{
		Type:     ct,
		Resource: Resource(d.Resource),
		Amount:   d.Amount,
		Color:    CardColor(d.Color),
	}
	if err := a.Execute(Kingdom(d.Actor), cmd); err != nil {
		return Wrap(CodeCorruption, fmt.Sprintf("match %d: replaying seq %d", e.MatchID, e.Seq), err)
	}
	return nil
}
