package match_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/jensholdgaard/three-kingdoms/internal/match"
)

func newAggregate(t *testing.T) *match.Aggregate {
	t.Helper()
	h := match.NewHeader(10, 1, 2, 3)
	h.ID = 42
	b, err := match.BuildFor(h)
	if err != nil {
		t.Fatalf("BuildFor() error = %v", err)
	}
	a, err := match.NewAggregate(h, b)
	if err != nil {
		t.Fatalf("NewAggregate() error = %v", err)
	}
	return a
}

func TestBuildFor_Defaults(t *testing.T) {
	a := newAggregate(t)

	d := a.Detail
	if d.RoundNumber != 1 {
		t.Errorf("RoundNumber = %d, want 1", d.RoundNumber)
	}
	if d.Phase != match.PhaseRecruit {
		t.Errorf("Phase = %q, want %q", d.Phase, match.PhaseRecruit)
	}
	if d.KingMarker != match.CriteriaAdmin || d.PopulationMarker != match.CriteriaCombat {
		t.Errorf("markers = %q/%q, want ADMIN/COMBAT", d.KingMarker, d.PopulationMarker)
	}
	if d.AllianceMarker != match.AllianceTrain {
		t.Errorf("AllianceMarker = %q, want TRAIN", d.AllianceMarker)
	}
	if d.FirstKingdom != match.Wei || d.SecondKingdom != match.Shu || d.ThirdKingdom != match.Wu {
		t.Errorf("order = %v, want [WEI SHU WU]", d.Order())
	}

	h := a.Header
	if h.Status != match.StatusInProgress {
		t.Errorf("Status = %q, want IN_PROGRESS", h.Status)
	}
	if h.CurrentTurn != match.Wei || !h.WeiTurn || h.ShuTurn || h.WuTurn {
		t.Errorf("turn = %q (wei=%v shu=%v wu=%v), want WEI only", h.CurrentTurn, h.WeiTurn, h.ShuTurn, h.WuTurn)
	}
	if len(h.ActivePlayers) != 3 {
		t.Errorf("ActivePlayers = %v, want 3 players", h.ActivePlayers)
	}

	if len(a.Kingdoms) != 3 {
		t.Fatalf("got %d kingdoms, want 3", len(a.Kingdoms))
	}
	for _, ki := range a.SortedKingdoms() {
		if ki.EmperorToken {
			t.Errorf("%s: EmperorToken = true, want false", ki.Kingdom)
		}
		for name, v := range ki.Counters() {
			if v != 0 {
				t.Errorf("%s.%s = %d, want 0", ki.Kingdom, name, v)
			}
		}
	}
}

func TestBuildFor_MissingID(t *testing.T) {
	_, err := match.BuildFor(match.NewHeader(1, 1, 2, 3))
	if !errors.Is(err, match.ErrInvalidArgument) {
		t.Fatalf("BuildFor() error = %v, want ErrInvalidArgument", err)
	}
}

func TestNewAggregate_RejectsBadBundles(t *testing.T) {
	h := match.NewHeader(1, 1, 2, 3)
	h.ID = 1

	tests := []struct {
		name     string
		kingdoms []*match.KingdomInfo
	}{
		{name: "missing kingdom", kingdoms: []*match.KingdomInfo{{Kingdom: match.Wei}, {Kingdom: match.Shu}}},
		{name: "duplicate kingdom", kingdoms: []*match.KingdomInfo{{Kingdom: match.Wei}, {Kingdom: match.Wei}, {Kingdom: match.Wu}}},
		{name: "unknown kingdom", kingdoms: []*match.KingdomInfo{{Kingdom: match.Wei}, {Kingdom: "JIN"}, {Kingdom: match.Wu}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := match.NewAggregate(h, match.Bundle{Kingdoms: tt.kingdoms})
			if !errors.Is(err, match.ErrInvalidArgument) {
				t.Errorf("NewAggregate() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestEnsureAmountPositive(t *testing.T) {
	tests := []struct {
		amount  int
		wantErr bool
	}{
		{amount: -5, wantErr: true},
		{amount: 0, wantErr: true},
		{amount: 1, wantErr: false},
		{amount: 1000, wantErr: false},
		{amount: match.MaxCounter, wantErr: false},
		{amount: match.MaxCounter + 1, wantErr: true},
		{amount: math.MaxInt, wantErr: true},
	}
	for _, tt := range tests {
		err := match.EnsureAmountPositive(tt.amount)
		if (err != nil) != tt.wantErr {
			t.Errorf("EnsureAmountPositive(%d) error = %v, wantErr %v", tt.amount, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, match.ErrInvalidArgument) {
			t.Errorf("EnsureAmountPositive(%d) error = %v, want ErrInvalidArgument", tt.amount, err)
		}
	}
}

func TestEnsureEnoughGold(t *testing.T) {
	a := newAggregate(t)
	a.Kingdom(match.Wei).Gold = 100

	tests := []struct {
		name    string
		kingdom match.Kingdom
		need    int
		wantErr bool
	}{
		{name: "below balance", kingdom: match.Wei, need: 50},
		{name: "exact balance", kingdom: match.Wei, need: 100},
		{name: "above balance", kingdom: match.Wei, need: 150, wantErr: true},
		{name: "zero gold kingdom", kingdom: match.Shu, need: 1, wantErr: true},
		{name: "missing kingdom counts as zero", kingdom: "JIN", need: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := match.EnsureEnoughGold(a, tt.kingdom, tt.need)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EnsureEnoughGold() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, match.ErrInsufficientResource) {
				t.Errorf("error = %v, want ErrInsufficientResource", err)
			}
		})
	}
}

func TestEnsureTurn(t *testing.T) {
	a := newAggregate(t)

	for _, k := range match.Kingdoms {
		err := match.EnsureTurn(a, k)
		if k == a.Header.CurrentTurn {
			if err != nil {
				t.Errorf("EnsureTurn(%s) error = %v, want nil", k, err)
			}
			continue
		}
		if !errors.Is(err, match.ErrNotYourTurn) {
			t.Errorf("EnsureTurn(%s) error = %v, want ErrNotYourTurn", k, err)
		}
	}

	a.Header.CurrentTurn = ""
	if err := match.EnsureTurn(a, match.Wei); !errors.Is(err, match.ErrNotYourTurn) {
		t.Errorf("EnsureTurn with no turn set error = %v, want ErrNotYourTurn", err)
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(a *match.Aggregate)
		actor   match.Kingdom
		cmd     match.Command
		wantErr *match.Error
		check   func(t *testing.T, a *match.Aggregate)
	}{
		{
			name:  "gain gold",
			actor: match.Wei,
			cmd:   match.Command{Type: match.CommandGainResource, Resource: match.ResourceGold, Amount: 7},
			check: func(t *testing.T, a *match.Aggregate) {
				if got := a.Kingdom(match.Wei).Gold; got != 7 {
					t.Errorf("Gold = %d, want 7", got)
				}
			},
		},
		{
			name:    "gain zero rejected",
			actor:   match.Wei,
			cmd:     match.Command{Type: match.CommandGainResource, Resource: match.ResourceGold, Amount: 0},
			wantErr: match.ErrInvalidArgument,
		},
		{
			name:    "unknown resource rejected",
			actor:   match.Wei,
			cmd:     match.Command{Type: match.CommandGainResource, Resource: "jade", Amount: 1},
			wantErr: match.ErrInvalidArgument,
		},
		{
			name:    "wrong turn rejected",
			actor:   match.Shu,
			cmd:     match.Command{Type: match.CommandGainResource, Resource: match.ResourceGold, Amount: 1},
			wantErr: match.ErrNotYourTurn,
		},
		{
			name:    "spend more than held rejected",
			setup:   func(a *match.Aggregate) { a.Kingdom(match.Wei).Rice = 3 },
			actor:   match.Wei,
			cmd:     match.Command{Type: match.CommandSpendResource, Resource: match.ResourceRice, Amount: 4},
			wantErr: match.ErrInsufficientResource,
		},
		{
			name:  "recruit converts gold to troops",
			setup: func(a *match.Aggregate) { a.Kingdom(match.Wei).Gold = 10 },
			actor: match.Wei,
			cmd:   match.Command{Type: match.CommandRecruitTroops, Amount: 4},
			check: func(t *testing.T, a *match.Aggregate) {
				ki := a.Kingdom(match.Wei)
				if ki.Gold != 6 || ki.UntrainedTroops != 4 {
					t.Errorf("gold=%d untrained=%d, want 6/4", ki.Gold, ki.UntrainedTroops)
				}
			},
		},
		{
			name:    "recruit without gold rejected",
			actor:   match.Wei,
			cmd:     match.Command{Type: match.CommandRecruitTroops, Amount: 1},
			wantErr: match.ErrInsufficientResource,
		},
		{
			name:  "train moves troops",
			setup: func(a *match.Aggregate) { a.Kingdom(match.Wei).UntrainedTroops = 5 },
			actor: match.Wei,
			cmd:   match.Command{Type: match.CommandTrainTroops, Amount: 5},
			check: func(t *testing.T, a *match.Aggregate) {
				ki := a.Kingdom(match.Wei)
				if ki.UntrainedTroops != 0 || ki.TrainedTroops != 5 {
					t.Errorf("untrained=%d trained=%d, want 0/5", ki.UntrainedTroops, ki.TrainedTroops)
				}
			},
		},
		{
			name:  "draw and hold red cards",
			actor: match.Wei,
			cmd:   match.Command{Type: match.CommandDrawCard, Color: match.CardRed, Amount: 2},
			check: func(t *testing.T, a *match.Aggregate) {
				if got := a.Kingdom(match.Wei).RedCard; got != 2 {
					t.Errorf("RedCard = %d, want 2", got)
				}
			},
		},
		{
			name:    "play missing card rejected",
			actor:   match.Wei,
			cmd:     match.Command{Type: match.CommandPlayCard, Color: match.CardYellow, Amount: 1},
			wantErr: match.ErrInsufficientResource,
		},
		{
			name:    "unknown card color rejected",
			actor:   match.Wei,
			cmd:     match.Command{Type: match.CommandDrawCard, Color: "blue", Amount: 1},
			wantErr: match.ErrInvalidArgument,
		},
		{
			name:  "abandon ignores turn",
			actor: match.Wu,
			cmd:   match.Command{Type: match.CommandAbandonMatch},
			check: func(t *testing.T, a *match.Aggregate) {
				if a.Header.Status != match.StatusAbandoned {
					t.Errorf("Status = %q, want ABANDONED", a.Header.Status)
				}
			},
		},
		{
			name:    "finished match rejects commands",
			setup:   func(a *match.Aggregate) { a.Header.Status = match.StatusFinished },
			actor:   match.Wei,
			cmd:     match.Command{Type: match.CommandGainResource, Resource: match.ResourceGold, Amount: 1},
			wantErr: match.ErrInvalidArgument,
		},
		{
			name:    "unknown command rejected",
			actor:   match.Wei,
			cmd:     match.Command{Type: "conquer"},
			wantErr: match.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAggregate(t)
			if tt.setup != nil {
				tt.setup(a)
			}
			before := a.Clone()

			err := a.Execute(tt.actor, tt.cmd)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Execute() error = %v, want %v", err, tt.wantErr)
				}
				if n := len(a.PendingEvents()); n != 0 {
					t.Errorf("rejected command recorded %d events", n)
				}
				if *a.Kingdom(tt.actor) != *before.Kingdom(tt.actor) || a.Header.Status != before.Header.Status {
					t.Error("rejected command mutated state")
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if n := len(a.PendingEvents()); n != 1 {
				t.Errorf("recorded %d events, want 1", n)
			}
			if tt.check != nil {
				tt.check(t, a)
			}
		})
	}
}

func TestExecute_EndTurnRotation(t *testing.T) {
	a := newAggregate(t)

	steps := []struct {
		wantTurn  match.Kingdom
		wantRound int
		wantPhase match.Phase
	}{
		{match.Shu, 1, match.PhaseRecruit},
		{match.Wu, 1, match.PhaseRecruit},
		{match.Wei, 2, match.PhaseDevelop},
		{match.Shu, 2, match.PhaseDevelop},
		{match.Wu, 2, match.PhaseDevelop},
		{match.Wei, 3, match.PhaseMove},
	}
	for i, s := range steps {
		if err := a.Execute(a.Header.CurrentTurn, match.Command{Type: match.CommandEndTurn}); err != nil {
			t.Fatalf("step %d: Execute(end_turn) error = %v", i, err)
		}
		h := a.Header
		if h.CurrentTurn != s.wantTurn {
			t.Errorf("step %d: turn = %s, want %s", i, h.CurrentTurn, s.wantTurn)
		}
		flags := map[match.Kingdom]bool{match.Wei: h.WeiTurn, match.Shu: h.ShuTurn, match.Wu: h.WuTurn}
		for k, set := range flags {
			if set != (k == s.wantTurn) {
				t.Errorf("step %d: %s flag = %v", i, k, set)
			}
		}
		if a.Detail.RoundNumber != s.wantRound || a.Detail.Phase != s.wantPhase {
			t.Errorf("step %d: round/phase = %d/%s, want %d/%s", i, a.Detail.RoundNumber, a.Detail.Phase, s.wantRound, s.wantPhase)
		}
	}
}

func TestPhase_NextWraps(t *testing.T) {
	p := match.PhaseRecruit
	for range 5 {
		p = p.Next()
	}
	if p != match.PhaseRecruit {
		t.Errorf("after 5 steps phase = %s, want RECRUIT", p)
	}
}

// A long pseudo-random command stream must keep every counter within
// [0, MaxCounter], including streams of huge amounts.
func TestExecute_CountersNeverNegative(t *testing.T) {
	a := newAggregate(t)
	cmds := []match.Command{
		{Type: match.CommandGainResource, Resource: match.ResourceGold, Amount: math.MaxInt32},
		{Type: match.CommandGainResource, Resource: match.ResourceRice, Amount: math.MaxInt},
		{Type: match.CommandRecruitTroops, Amount: math.MaxInt32},
		{Type: match.CommandTrainTroops, Amount: math.MaxInt32 / 2},
		{Type: match.CommandDrawCard, Color: match.CardRed, Amount: math.MaxInt32},
		{Type: match.CommandGainResource, Resource: match.ResourceGold, Amount: 3},
		{Type: match.CommandSpendResource, Resource: match.ResourceGold, Amount: 5},
		{Type: match.CommandRecruitTroops, Amount: 2},
		{Type: match.CommandTrainTroops, Amount: 3},
		{Type: match.CommandSpendResource, Resource: match.ResourceTroopsTrained, Amount: 1},
		{Type: match.CommandDrawCard, Color: match.CardYellow, Amount: 1},
		{Type: match.CommandPlayCard, Color: match.CardYellow, Amount: 2},
		{Type: match.CommandSpendResource, Resource: match.ResourceRice, Amount: 1},
		{Type: match.CommandEndTurn},
	}

	// Linear congruential sequence keeps the stream deterministic.
	x := uint32(2024)
	for i := range 2000 {
		x = x*1664525 + 1013904223
		cmd := cmds[int(x>>16)%len(cmds)]
		actor := match.Kingdoms[int(x>>8)%len(match.Kingdoms)]
		_ = a.Execute(actor, cmd)
		a.PendingEvents()

		for _, ki := range a.SortedKingdoms() {
			for name, v := range ki.Counters() {
				if v < 0 || v > match.MaxCounter {
					t.Fatalf("step %d: %s.%s = %d", i, ki.Kingdom, name, v)
				}
			}
		}
	}
}

func TestExecute_RejectsCounterOverflow(t *testing.T) {
	gain := func(r match.Resource, n int) match.Command {
		return match.Command{Type: match.CommandGainResource, Resource: r, Amount: n}
	}
	tests := []struct {
		name  string
		setup []match.Command
		cmd   match.Command
	}{
		{
			name:  "gain",
			setup: []match.Command{gain(match.ResourceGold, match.MaxCounter)},
			cmd:   gain(match.ResourceGold, 1),
		},
		{
			name:  "gain huge",
			setup: []match.Command{gain(match.ResourceRice, 1)},
			cmd:   gain(match.ResourceRice, match.MaxCounter),
		},
		{
			name:  "draw",
			setup: []match.Command{{Type: match.CommandDrawCard, Color: match.CardRed, Amount: match.MaxCounter}},
			cmd:   match.Command{Type: match.CommandDrawCard, Color: match.CardRed, Amount: 1},
		},
		{
			name:  "recruit",
			setup: []match.Command{gain(match.ResourceGold, 1), gain(match.ResourceTroopsUntrained, match.MaxCounter)},
			cmd:   match.Command{Type: match.CommandRecruitTroops, Amount: 1},
		},
		{
			name:  "train",
			setup: []match.Command{gain(match.ResourceTroopsUntrained, 1), gain(match.ResourceTroopsTrained, match.MaxCounter)},
			cmd:   match.Command{Type: match.CommandTrainTroops, Amount: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAggregate(t)
			for _, c := range tt.setup {
				if err := a.Execute(match.Wei, c); err != nil {
					t.Fatalf("setup %s: %v", c.Type, err)
				}
			}
			a.PendingEvents()
			before := a.Kingdom(match.Wei).Counters()

			err := a.Execute(match.Wei, tt.cmd)
			if !errors.Is(err, match.ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
			if got := a.PendingEvents(); len(got) != 0 {
				t.Errorf("rejected command recorded %d events", len(got))
			}
			after := a.Kingdom(match.Wei).Counters()
			for name, v := range before {
				if after[name] != v {
					t.Errorf("%s changed from %d to %d", name, v, after[name])
				}
			}
		})
	}
}

func TestError_IsByCode(t *testing.T) {
	err := match.Errorf(match.CodeNotYourTurn, "Not your turn")
	if !errors.Is(err, match.ErrNotYourTurn) {
		t.Error("errors.Is(NotYourTurn, ErrNotYourTurn) = false")
	}
	if errors.Is(err, match.ErrNotFound) {
		t.Error("errors.Is(NotYourTurn, ErrNotFound) = true")
	}
	wrapped := match.Wrap(match.CodeCorruption, "replay", err)
	if match.CodeOf(wrapped) != match.CodeCorruption {
		t.Errorf("CodeOf() = %q, want CORRUPTION", match.CodeOf(wrapped))
	}
}

func TestSnapshot_KingdomOf(t *testing.T) {
	s := newAggregate(t).Snapshot()
	for playerID, want := range map[int64]match.Kingdom{1: match.Wei, 2: match.Shu, 3: match.Wu} {
		got, ok := s.KingdomOf(playerID)
		if !ok || got != want {
			t.Errorf("KingdomOf(%d) = %q, %v; want %q", playerID, got, ok, want)
		}
	}
	if _, ok := s.KingdomOf(99); ok {
		t.Error("KingdomOf(99) found a seat")
	}
	if _, err := json.Marshal(s); err != nil {
		t.Errorf("marshal snapshot: %v", err)
	}
}
