package match

// Kingdom identifies one of the three seats in a match.
type Kingdom string

const (
	Wei Kingdom = "WEI"
	Shu Kingdom = "SHU"
	Wu  Kingdom = "WU"
)

// Kingdoms lists every kingdom in default turn order.
var Kingdoms = []Kingdom{Wei, Shu, Wu}

// ParseKingdom converts s into a Kingdom.
func ParseKingdom(s string) (Kingdom, error) {
	k := Kingdom(s)
	if !k.Valid() {
		return "", Errorf(CodeInvalidArgument, "unknown kingdom %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kingdoms.
func (k Kingdom) Valid() bool {
	switch k {
	case Wei, Shu, Wu:
		return true
	}
	return false
}

// Status is the lifecycle state of a match.
type Status string

const (
	StatusPendingInit Status = "PENDING_INIT"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusFinished    Status = "FINISHED"
	StatusAbandoned   Status = "ABANDONED"
)

// Terminal reports whether no further commands may be applied.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusAbandoned
}

// Phase is a step of the round cycle.
type Phase string

const (
	PhaseRecruit Phase = "RECRUIT"
	PhaseDevelop Phase = "DEVELOP"
	PhaseMove    Phase = "MOVE"
	PhaseBattle  Phase = "BATTLE"
	PhaseScore   Phase = "SCORE"
)

var phaseCycle = []Phase{PhaseRecruit, PhaseDevelop, PhaseMove, PhaseBattle, PhaseScore}

// Next returns the phase that follows p. The cycle wraps back to RECRUIT.
func (p Phase) Next() Phase {
	for i, ph := range phaseCycle {
		if ph == p {
			return phaseCycle[(i+1)%len(phaseCycle)]
		}
	}
	return PhaseRecruit
}

// Criteria is the scoring criterion carried by the king and population markers.
type Criteria string

const (
	CriteriaAdmin   Criteria = "ADMIN"
	CriteriaCombat  Criteria = "COMBAT"
	CriteriaEconomy Criteria = "ECONOMY"
)

// AllianceMarker is the action currently granted by the alliance marker.
type AllianceMarker string

const (
	AllianceTrain   AllianceMarker = "TRAIN"
	AllianceRecruit AllianceMarker = "RECRUIT"
	AllianceTrade   AllianceMarker = "TRADE"
)

// Resource names a counter on KingdomInfo that commands may change.
type Resource string

const (
	ResourceGold            Resource = "gold"
	ResourceRice            Resource = "rice"
	ResourceTroopsUntrained Resource = "troops_untrained"
	ResourceTroopsTrained   Resource = "troops_trained"
	ResourceSpear           Resource = "spear"
	ResourceCrossbow        Resource = "crossbow"
	ResourceHorse           Resource = "horse"
	ResourceVessel          Resource = "vessel"
	ResourceRedCard         Resource = "red_card"
	ResourceYellowCard      Resource = "yellow_card"
	ResourceGeneralsUnused  Resource = "generals_unused"
	ResourceVictoryPoints   Resource = "victory_points"
)

// ParseResource converts s into a Resource.
func ParseResource(s string) (Resource, error) {
	r := Resource(s)
	var blank KingdomInfo
	if blank.counter(r) == nil {
		return "", Errorf(CodeInvalidArgument, "unknown resource %q", s)
	}
	return r, nil
}

func (r Resource) String() string { return string(r) }

// CardColor selects which card pile draw/play commands use.
type CardColor string

const (
	CardRed    CardColor = "red"
	CardYellow CardColor = "yellow"
)

func (c CardColor) resource() (Resource, error) {
	switch c {
	case CardRed:
		return ResourceRedCard, nil
	case CardYellow:
		return ResourceYellowCard, nil
	}
	return "", Errorf(CodeInvalidArgument, "unknown card color %q", string(c))
}

func (k Kingdom) String() string { return string(k) }
