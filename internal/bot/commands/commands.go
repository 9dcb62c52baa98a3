package commands

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/three-kingdoms/internal/engine"
	"github.com/jensholdgaard/three-kingdoms/internal/event"
	"github.com/jensholdgaard/three-kingdoms/internal/match"
)

// maxEvents caps how many events one /match-events reply lists.
const maxEvents = 15

// Engine is the part of engine.Service the bot drives.
type Engine interface {
	SubmitCommand(ctx context.Context, matchID int64, actor match.Kingdom, cmd match.Command, key string) (engine.Result, error)
	Snapshot(ctx context.Context, matchID int64) (match.Snapshot, error)
	ReadEvents(ctx context.Context, matchID, fromSeq int64) iter.Seq2[event.Event, error]
}

// Handlers process Discord interactions.
type Handlers struct {
	engine  Engine
	players map[string]int64
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewHandlers creates command handlers. players maps Discord user IDs to
// player IDs.
func NewHandlers(e Engine, players map[string]int64, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		engine:  e,
		players: players,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/three-kingdoms/internal/bot/commands"),
	}
}

func matchIDOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "match",
		Description: "Match ID",
		Required:    true,
	}
}

func choices[T ~string](values ...T) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(values))
	for _, v := range values {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: string(v), Value: string(v)})
	}
	return out
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "match-state",
			Description: "Show the current state of a match",
			Options:     []*discordgo.ApplicationCommandOption{matchIDOption()},
		},
		{
			Name:        "match-events",
			Description: "List the events of a match",
			Options: []*discordgo.ApplicationCommandOption{
				matchIDOption(),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "from",
					Description: "First seq to list (default: 1)",
				},
			},
		},
		{
			Name:        "match-command",
			Description: "Play a command for your kingdom",
			Options: []*discordgo.ApplicationCommandOption{
				matchIDOption(),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Command to play",
					Required:    true,
					Choices: choices(
						match.CommandGainResource, match.CommandSpendResource,
						match.CommandRecruitTroops, match.CommandTrainTroops,
						match.CommandDrawCard, match.CommandPlayCard,
						match.CommandEndTurn, match.CommandFinishMatch, match.CommandAbandonMatch,
					),
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "resource",
					Description: "Resource for gain/spend",
					Choices: choices(
						match.ResourceGold, match.ResourceRice,
						match.ResourceTroopsUntrained, match.ResourceTroopsTrained,
						match.ResourceSpear, match.ResourceCrossbow, match.ResourceHorse, match.ResourceVessel,
						match.ResourceRedCard, match.ResourceYellowCard,
						match.ResourceGeneralsUnused, match.ResourceVictoryPoints,
					),
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Amount",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "color",
					Description: "Card color for draw/play",
					Choices:     choices(match.CardRed, match.CardYellow),
				},
			},
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	ctx, span := h.tracer.Start(context.Background(), "InteractionCreate",
		trace.WithAttributes(attribute.String("command", data.Name)),
	)
	defer span.End()

	var msg string
	switch data.Name {
	case "match-state":
		msg = h.handleState(ctx, data.Options)
	case "match-events":
		msg = h.handleEvents(ctx, data.Options)
	case "match-command":
		msg = h.handleCommand(ctx, i.ID, userID(i), data.Options)
	default:
		msg = "Unknown command"
	}
	respond(s, i, msg)
}

func (h *Handlers) handleState(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	id := optionMap(opts).intOpt("match", 0)
	snap, err := h.engine.Snapshot(ctx, id)
	if err != nil {
		return errorMessage(err)
	}
	return FormatSnapshot(snap)
}

func (h *Handlers) handleEvents(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	om := optionMap(opts)
	id := om.intOpt("match", 0)
	from := max(om.intOpt("from", 1), 1)

	var b strings.Builder
	fmt.Fprintf(&b, "**Match %d events from #%d:**\n", id, from)
	n := 0
	for e, err := range h.engine.ReadEvents(ctx, id, from) {
		if err != nil {
			return errorMessage(err)
		}
		if n == maxEvents {
			fmt.Fprintf(&b, "… more from #%d", e.Seq)
			break
		}
		fmt.Fprintf(&b, "#%d `%s` %s\n", e.Seq, e.Type, e.Payload)
		n++
	}
	if n == 0 {
		return fmt.Sprintf("Match %d has no events from #%d.", id, from)
	}
	return b.String()
}

func (h *Handlers) handleCommand(ctx context.Context, interactionID, discordID string, opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	om := optionMap(opts)
	id := om.intOpt("match", 0)

	snap, err := h.engine.Snapshot(ctx, id)
	if err != nil {
		return errorMessage(err)
	}
	actor, err := h.Actor(snap, discordID)
	if err != nil {
		return errorMessage(err)
	}
	cmd := CommandFromOptions(opts)

	// The interaction ID is unique per invocation, so Discord redeliveries
	// are applied once.
	res, err := h.engine.SubmitCommand(ctx, id, actor, cmd, interactionID)
	if err != nil {
		h.logger.InfoContext(ctx, "discord command rejected",
			slog.Int64("match_id", id),
			slog.String("actor", string(actor)),
			slog.String("command", string(cmd.Type)),
			slog.Any("error", err),
		)
		return errorMessage(err)
	}
	return fmt.Sprintf("**%s** played `%s` (seq %d)\n%s", actor, cmd.Type, res.Seq, FormatSnapshot(res.Snapshot))
}

// Actor returns the kingdom the Discord user plays in snap.
func (h *Handlers) Actor(snap match.Snapshot, discordID string) (match.Kingdom, error) {
	playerID, ok := h.players[discordID]
	if !ok {
		return "", match.Errorf(match.CodeInvalidArgument, "your Discord account is not linked to a player")
	}
	k, ok := snap.KingdomOf(playerID)
	if !ok {
		return "", match.Errorf(match.CodeInvalidArgument, "you are not seated in match %d", snap.ID)
	}
	return k, nil
}

// CommandFromOptions builds a match command from slash command options.
func CommandFromOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) match.Command {
	om := optionMap(opts)
	return match.Command{
		Type:     match.CommandType(om.stringOpt("type")),
		Resource: match.Resource(om.stringOpt("resource")),
		Amount:   int(om.intOpt("amount", 0)),
		Color:    match.CardColor(om.stringOpt("color")),
	}
}

// FormatSnapshot renders snap as a Discord message.
func FormatSnapshot(snap match.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Match %d** (%s) round %d, %s phase, seq %d\n",
		snap.ID, snap.Status, snap.RoundNumber, snap.Phase, snap.LastSeq)
	if snap.Status == match.StatusInProgress {
		fmt.Fprintf(&b, "Turn: **%s**\n", snap.CurrentTurn)
	}
	for _, ki := range snap.Kingdoms {
		fmt.Fprintf(&b, "%s: gold %d, rice %d, horse %d, vp %d, troops %d/%d, cards %dR %dY\n",
			ki.Kingdom, ki.Gold, ki.Rice, ki.Horse, ki.MilitaryVictoryPoints,
			ki.TrainedTroops, ki.UntrainedTroops, ki.RedCard, ki.YellowCard)
	}
	return b.String()
}

func errorMessage(err error) string {
	var me *match.Error
	if errors.As(err, &me) {
		switch me.Code {
		case match.CodeNotYourTurn, match.CodeInsufficientResource, match.CodeInvalidArgument, match.CodeNotFound:
			return "Rejected: " + err.Error()
		case match.CodeConcurrencyConflict:
			return "The match is busy, try again."
		}
	}
	return "Something went wrong, the error has been logged."
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (m options) intOpt(name string, def int64) int64 {
	if o, ok := m[name]; ok && o.Type == discordgo.ApplicationCommandOptionInteger {
		return o.IntValue()
	}
	return def
}

func (m options) stringOpt(name string) string {
	if o, ok := m[name]; ok && o.Type == discordgo.ApplicationCommandOptionString {
		return o.StringValue()
	}
	return ""
}

func userID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}
