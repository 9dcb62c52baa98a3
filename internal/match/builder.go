package match

// Bundle is the initial detail and kingdom sheets for a new match.
type Bundle struct {
	Detail   Detail
	Kingdoms []*KingdomInfo
}

// NewHeader returns the header of a freshly started match: in progress,
// WEI to move, every seated player active.
func NewHeader(roomID, weiPlayerID, shuPlayerID, wuPlayerID int64) Header {
	h := Header{
		RoomID:        roomID,
		WeiPlayerID:   weiPlayerID,
		ShuPlayerID:   shuPlayerID,
		WuPlayerID:    wuPlayerID,
		Status:        StatusInProgress,
		ActivePlayers: []int64{weiPlayerID, shuPlayerID, wuPlayerID},
	}
	h.setTurn(Wei)
	return h
}

// BuildFor returns the default detail and zeroed kingdom sheets for h.
// h must already carry its persisted id.
func BuildFor(h Header) (Bundle, error) {
	if h.ID == 0 {
		return Bundle{}, Errorf(CodeInvalidArgument, "match header has no id")
	}
	b := Bundle{
		Detail: Detail{
			MatchID:          h.ID,
			RoundNumber:      1,
			KingMarker:       CriteriaAdmin,
			PopulationMarker: CriteriaCombat,
			Phase:            PhaseRecruit,
			AllianceMarker:   AllianceTrain,
			FirstKingdom:     Wei,
			SecondKingdom:    Shu,
			ThirdKingdom:     Wu,
		},
		Kingdoms: make([]*KingdomInfo, 0, len(Kingdoms)),
	}
	for _, k := range Kingdoms {
		b.Kingdoms = append(b.Kingdoms, &KingdomInfo{MatchID: h.ID, Kingdom: k})
	}
	return b, nil
}
