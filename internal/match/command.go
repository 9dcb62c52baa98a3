package match

import (
	"github.com/jensholdgaard/three-kingdoms/internal/event"
)

// CommandType names a player action.
type CommandType string

const (
	CommandGainResource  CommandType = "gain_resource"
	CommandSpendResource CommandType = "spend_resource"
	CommandRecruitTroops CommandType = "recruit_troops"
	CommandTrainTroops   CommandType = "train_troops"
	CommandDrawCard      CommandType = "draw_card"
	CommandPlayCard      CommandType = "play_card"
	CommandEndTurn       CommandType = "end_turn"
	CommandFinishMatch   CommandType = "finish_match"
	CommandAbandonMatch  CommandType = "abandon_match"
)

// CommandInitMatch is the ledger command type for match creation.
const CommandInitMatch CommandType = "init_match"

var commandEvents = map[CommandType]event.Type{
	CommandGainResource:  event.ResourceGained,
	CommandSpendResource: event.ResourceSpent,
	CommandRecruitTroops: event.TroopsRecruited,
	CommandTrainTroops:   event.TroopsTrained,
	CommandDrawCard:      event.CardDrawn,
	CommandPlayCard:      event.CardPlayed,
	CommandEndTurn:       event.TurnEnded,
	CommandFinishMatch:   event.MatchFinished,
	CommandAbandonMatch:  event.MatchAbandoned,
}

// EventType returns the event recorded when t is accepted.
func (t CommandType) EventType() (event.Type, bool) {
	et, ok := commandEvents[t]
	return et, ok
}

// Command is a player action against a match.
type Command struct {
	Type     CommandType `json:"type"`
	Resource Resource    `json:"resource,omitempty"`
	Amount   int         `json:"amount,omitempty"`
	Color    CardColor   `json:"color,omitempty"`
}

// Execute checks every guard for cmd issued by actor and, only if all pass,
// applies it and records the resulting event. A rejected command leaves a
// unchanged.
func (a *Aggregate) Execute(actor Kingdom, cmd Command) error {
	if !actor.Valid() {
		return Errorf(CodeInvalidArgument, "unknown kingdom %q", string(actor))
	}
	et, ok := cmd.Type.EventType()
	if !ok {
		return Errorf(CodeInvalidArgument, "unknown command %q", string(cmd.Type))
	}
	if err := EnsureInProgress(a); err != nil {
		return err
	}
	if cmd.Type != CommandAbandonMatch {
		if err := EnsureTurn(a, actor); err != nil {
			return err
		}
	}
	ki := a.Kingdom(actor)
	if ki == nil {
		return Errorf(CodeNotFound, "kingdom %s not found in match %d", actor, a.Header.ID)
	}

	data := event.CommandData{Actor: string(actor), Amount: cmd.Amount}

	switch cmd.Type {
	case CommandGainResource, CommandSpendResource:
		if err := EnsureAmountPositive(cmd.Amount); err != nil {
			return err
		}
		p := ki.counter(cmd.Resource)
		if p == nil {
			return Errorf(CodeInvalidArgument, "unknown resource %q", string(cmd.Resource))
		}
		if cmd.Type == CommandSpendResource {
			if err := EnsureEnough(a, actor, cmd.Resource, cmd.Amount); err != nil {
				return err
			}
			*p -= cmd.Amount
		} else {
			if err := EnsureRoom(a, actor, cmd.Resource, cmd.Amount); err != nil {
				return err
			}
			*p += cmd.Amount
		}
		data.Resource = string(cmd.Resource)

	case CommandRecruitTroops:
		if err := EnsureAmountPositive(cmd.Amount); err != nil {
			return err
		}
		if err := EnsureEnoughGold(a, actor, cmd.Amount); err != nil {
			return err
		}
		if err := EnsureRoom(a, actor, ResourceTroopsUntrained, cmd.Amount); err != nil {
			return err
		}
		ki.Gold -= cmd.Amount
		ki.UntrainedTroops += cmd.Amount

	case CommandTrainTroops:
		if err := EnsureAmountPositive(cmd.Amount); err != nil {
			return err
		}
		if err := EnsureEnough(a, actor, ResourceTroopsUntrained, cmd.Amount); err != nil {
			return err
		}
		if err := EnsureRoom(a, actor, ResourceTroopsTrained, cmd.Amount); err != nil {
			return err
		}
		ki.UntrainedTroops -= cmd.Amount
		ki.TrainedTroops += cmd.Amount

	case CommandDrawCard, CommandPlayCard:
		if err := EnsureAmountPositive(cmd.Amount); err != nil {
			return err
		}
		r, err := cmd.Color.resource()
		if err != nil {
			return err
		}
		if cmd.Type == CommandPlayCard {
			if err := EnsureEnough(a, actor, r, cmd.Amount); err != nil {
				return err
			}
			*ki.counter(r) -= cmd.Amount
		} else {
			if err := EnsureRoom(a, actor, r, cmd.Amount); err != nil {
				return err
			}
			*ki.counter(r) += cmd.Amount
		}
		data.Color = string(cmd.Color)

	case CommandEndTurn:
		next := a.endTurn()
		return a.recordEvent(et, event.TurnEndedData{
			Actor: string(actor),
			Next:  string(next),
			Round: a.Detail.RoundNumber,
			Phase: string(a.Detail.Phase),
		})

	case CommandFinishMatch:
		a.Header.Status = StatusFinished

	case CommandAbandonMatch:
		a.Header.Status = StatusAbandoned
	}

	return a.recordEvent(et, data)
}
