package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	MatchInitialized Type = "match.initialized"
	MatchFinished    Type = "match.finished"
	MatchAbandoned   Type = "match.abandoned"

	ResourceGained  Type = "resource.gained"
	ResourceSpent   Type = "resource.spent"
	TroopsRecruited Type = "troops.recruited"
	TroopsTrained   Type = "troops.trained"
	CardDrawn       Type = "card.drawn"
	CardPlayed      Type = "card.played"

	TurnEnded Type = "turn.ended"
)

// Event is one entry of a match log. (MatchID, Seq) is unique and Seq runs
// 1, 2, 3... per match with no gaps. Events are never updated or deleted.
type Event struct {
	MatchID   int64           `json:"matchId" db:"match_id"`
	Seq       int64           `json:"seq" db:"seq"`
	TxID      int64           `json:"txId" db:"tx_id"`
	Type      Type            `json:"type" db:"type"`
	Payload   json.RawMessage `json:"payload" db:"payload_jsonb"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// InitializedData is the payload for MatchInitialized events.
type InitializedData struct {
	RoomID        int64   `json:"room_id"`
	WeiPlayerID   int64   `json:"wei_player_id"`
	ShuPlayerID   int64   `json:"shu_player_id"`
	WuPlayerID    int64   `json:"wu_player_id"`
	ActivePlayers []int64 `json:"active_players"`
}

// CommandData is the payload for resource, troop, card and lifecycle events.
type CommandData struct {
	Actor    string `json:"actor"`
	Resource string `json:"resource,omitempty"`
	Amount   int    `json:"amount,omitempty"`
	Color    string `json:"color,omitempty"`
}

// TurnEndedData is the payload for TurnEnded events.
type TurnEndedData struct {
	Actor string `json:"actor"`
	Next  string `json:"next"`
	Round int    `json:"round"`
	Phase string `json:"phase"`
}
