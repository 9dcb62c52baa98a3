package match

import "time"

// Audit carries persistence timestamps. The store sets both fields; the
// domain never reads them.
type Audit struct {
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Header is the identity and turn state of a match.
type Header struct {
	ID          int64   `db:"id"`
	RoomID      int64   `db:"room_id"`
	WeiPlayerID int64   `db:"wei_player_id"`
	ShuPlayerID int64   `db:"shu_player_id"`
	WuPlayerID  int64   `db:"wu_player_id"`
	Status      Status  `db:"status"`
	CurrentTurn Kingdom `db:"current_turn"`
	WeiTurn     bool    `db:"wei_turn"`
	ShuTurn     bool    `db:"shu_turn"`
	WuTurn      bool    `db:"wu_turn"`
	// ActivePlayers is persisted separately by each driver.
	ActivePlayers []int64 `db:"-"`
	// Version is bumped on every save and used for compare-and-swap.
	Version int64 `db:"version"`
	// LastSeq is the seq of the newest event in the match log.
	LastSeq int64 `db:"last_seq"`
	Audit
}

// PlayerOf returns the player seated at k.
func (h Header) PlayerOf(k Kingdom) int64 {
	switch k {
	case Wei:
		return h.WeiPlayerID
	case Shu:
		return h.ShuPlayerID
	case Wu:
		return h.WuPlayerID
	}
	return 0
}

// KingdomOf returns the kingdom seated by playerID.
func (h Header) KingdomOf(playerID int64) (Kingdom, bool) {
	for _, k := range Kingdoms {
		if h.PlayerOf(k) == playerID {
			return k, true
		}
	}
	return "", false
}

func (h *Header) setTurn(k Kingdom) {
	h.CurrentTurn = k
	h.WeiTurn = k == Wei
	h.ShuTurn = k == Shu
	h.WuTurn = k == Wu
}

// Detail holds the round, phase and marker state.
type Detail struct {
	MatchID          int64          `db:"match_id"`
	RoundNumber      int            `db:"round_number"`
	KingMarker       Criteria       `db:"king_marker"`
	PopulationMarker Criteria       `db:"population_marker"`
	Phase            Phase          `db:"phase"`
	AllianceMarker   AllianceMarker `db:"alliance_marker"`
	FirstKingdom     Kingdom        `db:"first_kingdom"`
	SecondKingdom    Kingdom        `db:"second_kingdom"`
	ThirdKingdom     Kingdom        `db:"third_kingdom"`
	Audit
}

// Order returns the kingdoms in turn order.
func (d Detail) Order() []Kingdom {
	return []Kingdom{d.FirstKingdom, d.SecondKingdom, d.ThirdKingdom}
}

// KingdomInfo is the per-kingdom resource sheet. Every counter is >= 0.
type KingdomInfo struct {
	MatchID               int64   `db:"match_id" json:"-"`
	Kingdom               Kingdom `db:"kingdom" json:"kingdom"`
	Gold                  int     `db:"gold" json:"gold"`
	Rice                  int     `db:"rice" json:"rice"`
	PopulationSupport     int     `db:"population_support_token" json:"populationSupportToken"`
	UntrainedTroops       int     `db:"untrained_troops" json:"unTrainedTroops"`
	TrainedTroops         int     `db:"trained_troops" json:"trainedTroops"`
	StationTroops         int     `db:"station_troops" json:"stationTroops"`
	Spear                 int     `db:"spear" json:"spear"`
	Crossbow              int     `db:"crossbow" json:"crossbow"`
	Horse                 int     `db:"horse" json:"horse"`
	Vessel                int     `db:"vessel" json:"vessel"`
	RedCard               int     `db:"red_card" json:"redCard"`
	YellowCard            int     `db:"yellow_card" json:"yellowCard"`
	TotalGeneral          int     `db:"total_general" json:"totalGeneral"`
	StationGeneral        int     `db:"station_general" json:"stationGeneral"`
	UnusedGeneral         int     `db:"unused_general" json:"unusedGeneral"`
	FlippedMarket         int     `db:"flipped_market" json:"flippedMarket"`
	FlippedFarm           int     `db:"flipped_farm" json:"flippedFarm"`
	DevelopedMarket       int     `db:"developed_market" json:"developedMarket"`
	DevelopedFarm         int     `db:"developed_farm" json:"developedFarm"`
	MarketFlagVP          int     `db:"market_flag_vp" json:"marketFlagVP"`
	FarmFlagVP            int     `db:"farm_flag_vp" json:"farmFlagVP"`
	MarketFlagNoVP        int     `db:"market_flag_no_vp" json:"marketFlagNoVP"`
	FarmFlagNoVP          int     `db:"farm_flag_no_vp" json:"farmFlagNoVP"`
	MilitaryVictoryPoints int     `db:"military_victory_points" json:"militaryVictoryPoints"`
	EconomicLevel         int     `db:"economic_level" json:"economicLevel"`
	TribalLevel           int     `db:"tribal_level" json:"tribalLevel"`
	RankLevel             int     `db:"rank_level" json:"rankLevel"`
	WeiBorderLevel        int     `db:"wei_border_level" json:"weiBorderLevel"`
	ShuBorderLevel        int     `db:"shu_border_level" json:"shuBorderLevel"`
	WuBorderLevel         int     `db:"wu_border_level" json:"wuBorderLevel"`
	EmperorToken          bool    `db:"emperor_token" json:"isEmperorToken"`
	Audit                 `json:"-"`
}

// counter returns a pointer to the field backing r, or nil for an unknown resource.
func (k *KingdomInfo) counter(r Resource) *int {
	switch r {
	case ResourceGold:
		return &k.Gold
	case ResourceRice:
		return &k.Rice
	case ResourceTroopsUntrained:
		return &k.UntrainedTroops
	case ResourceTroopsTrained:
		return &k.TrainedTroops
	case ResourceSpear:
		return &k.Spear
	case ResourceCrossbow:
		return &k.Crossbow
	case ResourceHorse:
		return &k.Horse
	case ResourceVessel:
		return &k.Vessel
	case ResourceRedCard:
		return &k.RedCard
	case ResourceYellowCard:
		return &k.YellowCard
	case ResourceGeneralsUnused:
		return &k.UnusedGeneral
	case ResourceVictoryPoints:
		return &k.MilitaryVictoryPoints
	}
	return nil
}

// Amount returns the current value of r, or 0 for an unknown resource.
func (k *KingdomInfo) Amount(r Resource) int {
	if p := k.counter(r); p != nil {
		return *p
	}
	return 0
}

// Counters returns every numeric field keyed by column name.
func (k *KingdomInfo) Counters() map[string]int {
	return map[string]int{
		"gold":                     k.Gold,
		"rice":                     k.Rice,
		"population_support_token": k.PopulationSupport,
		"untrained_troops":         k.UntrainedTroops,
		"trained_troops":           k.TrainedTroops,
		"station_troops":           k.StationTroops,
		"spear":                    k.Spear,
		"crossbow":                 k.Crossbow,
		"horse":                    k.Horse,
		"vessel":                   k.Vessel,
		"red_card":                 k.RedCard,
		"yellow_card":              k.YellowCard,
		"total_general":            k.TotalGeneral,
		"station_general":          k.StationGeneral,
		"unused_general":           k.UnusedGeneral,
		"flipped_market":           k.FlippedMarket,
		"flipped_farm":             k.FlippedFarm,
		"developed_market":         k.DevelopedMarket,
		"developed_farm":           k.DevelopedFarm,
		"market_flag_vp":           k.MarketFlagVP,
		"farm_flag_vp":             k.FarmFlagVP,
		"market_flag_no_vp":        k.MarketFlagNoVP,
		"farm_flag_no_vp":          k.FarmFlagNoVP,
		"military_victory_points":  k.MilitaryVictoryPoints,
		"economic_level":           k.EconomicLevel,
		"tribal_level":             k.TribalLevel,
		"rank_level":               k.RankLevel,
		"wei_border_level":         k.WeiBorderLevel,
		"shu_border_level":         k.ShuBorderLevel,
		"wu_border_level":          k.WuBorderLevel,
	}
}
