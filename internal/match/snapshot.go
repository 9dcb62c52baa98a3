package match

// Snapshot is the client-facing view of a match.
type Snapshot struct {
	ID               int64          `json:"id"`
	RoomID           int64          `json:"roomId"`
	WeiPlayerID      int64          `json:"weiPlayerId"`
	ShuPlayerID      int64          `json:"shuPlayerId"`
	WuPlayerID       int64          `json:"wuPlayerId"`
	Status           Status         `json:"status"`
	CurrentTurn      Kingdom        `json:"currentTurn"`
	WeiTurn          bool           `json:"weiTurn"`
	ShuTurn          bool           `json:"shuTurn"`
	WuTurn           bool           `json:"wuTurn"`
	ActivePlayers    []int64        `json:"activePlayers"`
	RoundNumber      int            `json:"roundNumber"`
	KingMarker       Criteria       `json:"kingMarker"`
	PopulationMarker Criteria       `json:"populationMarker"`
	Phase            Phase          `json:"phase"`
	AllianceMarker   AllianceMarker `json:"allianceMarker"`
	FirstKingdom     Kingdom        `json:"firstKingdom"`
	SecondKingdom    Kingdom        `json:"secondKingdom"`
	ThirdKingdom     Kingdom        `json:"thirdKingdom"`
	LastSeq          int64          `json:"lastSeq"`
	Kingdoms         []KingdomInfo  `json:"kingdoms"`
}

// Snapshot returns the current view of a.
func (a *Aggregate) Snapshot() Snapshot {
	h, d := a.Header, a.Detail
	s := Snapshot{
		ID:               h.ID,
		RoomID:           h.RoomID,
		WeiPlayerID:      h.WeiPlayerID,
		ShuPlayerID:      h.ShuPlayerID,
		WuPlayerID:       h.WuPlayerID,
		Status:           h.Status,
		CurrentTurn:      h.CurrentTurn,
		WeiTurn:          h.WeiTurn,
		ShuTurn:          h.ShuTurn,
		WuTurn:           h.WuTurn,
		ActivePlayers:    append([]int64(nil), h.ActivePlayers...),
		RoundNumber:      d.RoundNumber,
		KingMarker:       d.KingMarker,
		PopulationMarker: d.PopulationMarker,
		Phase:            d.Phase,
		AllianceMarker:   d.AllianceMarker,
		FirstKingdom:     d.FirstKingdom,
		SecondKingdom:    d.SecondKingdom,
		ThirdKingdom:     d.ThirdKingdom,
		LastSeq:          h.LastSeq,
	}
	for _, ki := range a.SortedKingdoms() {
		s.Kingdoms = append(s.Kingdoms, *ki)
	}
	return s
}

// KingdomOf returns the kingdom seated by playerID.
func (s Snapshot) KingdomOf(playerID int64) (Kingdom, bool) {
	switch playerID {
	case s.WeiPlayerID:
		return Wei, true
	case s.ShuPlayerID:
		return Shu, true
	case s.WuPlayerID:
		return Wu, true
	}
	return "", false
}
