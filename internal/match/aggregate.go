package match

import (
	"encoding/json"
	"fmt"

	"github.com/jensholdgaard/three-kingdoms/internal/event"
)

// Aggregate is the in-memory state of one match: header, detail and the
// three kingdom sheets. It is not safe for concurrent use; the store
// serializes access per match.
type Aggregate struct {
	Header   Header
	Detail   Detail
	Kingdoms map[Kingdom]*KingdomInfo

	events []event.Event
}

// NewAggregate assembles an aggregate from a header and its built state.
func NewAggregate(h Header, b Bundle) (*Aggregate, error) {
	if len(b.Kingdoms) != len(Kingdoms) {
		return nil, Errorf(CodeInvalidArgument, "match %d: want %d kingdoms, got %d", h.ID, len(Kingdoms), len(b.Kingdoms))
	}
	a := &Aggregate{
		Header:   h,
		Detail:   b.Detail,
		Kingdoms: make(map[Kingdom]*KingdomInfo, len(Kingdoms)),
	}
	for _, ki := range b.Kingdoms {
		if ki == nil || !ki.Kingdom.Valid() {
			return nil, Errorf(CodeInvalidArgument, "match %d: invalid kingdom sheet", h.ID)
		}
		if _, dup := a.Kingdoms[ki.Kingdom]; dup {
			return nil, Errorf(CodeInvalidArgument, "match %d: duplicate kingdom %s", h.ID, ki.Kingdom)
		}
		a.Kingdoms[ki.Kingdom] = ki
	}
	return a, nil
}

// Kingdom returns the sheet for k, or nil when absent.
func (a *Aggregate) Kingdom(k Kingdom) *KingdomInfo {
	return a.Kingdoms[k]
}

// SortedKingdoms returns the kingdom sheets in WEI, SHU, WU order.
func (a *Aggregate) SortedKingdoms() []*KingdomInfo {
	out := make([]*KingdomInfo, 0, len(a.Kingdoms))
	for _, k := range Kingdoms {
		if ki, ok := a.Kingdoms[k]; ok {
			out = append(out, ki)
		}
	}
	return out
}

// Clone returns a deep copy without pending events.
func (a *Aggregate) Clone() *Aggregate {
	c := &Aggregate{
		Header:   a.Header,
		Detail:   a.Detail,
		Kingdoms: make(map[Kingdom]*KingdomInfo, len(a.Kingdoms)),
	}
	c.Header.ActivePlayers = append([]int64(nil), a.Header.ActivePlayers...)
	for k, ki := range a.Kingdoms {
		cp := *ki
		c.Kingdoms[k] = &cp
	}
	return c
}

// PendingEvents returns unpersisted events and clears the buffer.
func (a *Aggregate) PendingEvents() []event.Event {
	events := a.events
	a.events = nil
	return events
}

func (a *Aggregate) recordEvent(t event.Type, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", t, err)
	}
	a.events = append(a.events, event.Event{
		MatchID: a.Header.ID,
		Type:    t,
		Payload: payload,
	})
	return nil
}
