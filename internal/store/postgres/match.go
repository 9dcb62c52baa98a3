package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jensholdgaard/three-kingdoms/internal/match"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
)

// headerRow adds the array column that match.Header leaves to the driver.
type headerRow struct {
	match.Header
	ActivePlayers pq.Int64Array `db:"active_players"`
}

const selectHeader = `SELECT id, room_id, wei_player_id, shu_player_id, wu_player_id, status,
	current_turn, wei_turn, shu_turn, wu_turn, active_players, version, last_seq,
	created_at, updated_at
	FROM matches WHERE id = $1`

const selectDetail = `SELECT match_id, round_number, king_marker, population_marker, phase,
	alliance_marker, first_kingdom, second_kingdom, third_kingdom, created_at, updated_at
	FROM match_details WHERE match_id = $1`

const selectKingdoms = `SELECT * FROM kingdom_infos WHERE match_id = $1 ORDER BY kingdom`

const insertDetail = `INSERT INTO match_details (match_id, round_number, king_marker,
	population_marker, phase, alliance_marker, first_kingdom, second_kingdom, third_kingdom,
	created_at, updated_at)
	VALUES (:match_id, :round_number, :king_marker, :population_marker, :phase,
	:alliance_marker, :first_kingdom, :second_kingdom, :third_kingdom, :created_at, :updated_at)`

const insertKingdom = `INSERT INTO kingdom_infos (match_id, kingdom, gold, rice,
	population_support_token, untrained_troops, trained_troops, station_troops, spear, crossbow,
	horse, vessel, red_card, yellow_card, total_general, station_general, unused_general,
	flipped_market, flipped_farm, developed_market, developed_farm, market_flag_vp, farm_flag_vp,
	market_flag_no_vp, farm_flag_no_vp, military_victory_points, economic_level, tribal_level,
	rank_level, wei_border_level, shu_border_level, wu_border_level, emperor_token,
	created_at, updated_at)
	VALUES (:match_id, :kingdom, :gold, :rice, :population_support_token, :untrained_troops,
	:trained_troops, :station_troops, :spear, :crossbow, :horse, :vessel, :red_card, :yellow_card,
	:total_general, :station_general, :unused_general, :flipped_market, :flipped_farm,
	:developed_market, :developed_farm, :market_flag_vp, :farm_flag_vp, :market_flag_no_vp,
	:farm_flag_no_vp, :military_victory_points, :economic_level, :tribal_level, :rank_level,
	:wei_border_level, :shu_border_level, :wu_border_level, :emperor_token, :created_at, :updated_at)`

const updateDetail = `UPDATE match_details SET round_number = :round_number,
	king_marker = :king_marker, population_marker = :population_marker, phase = :phase,
	alliance_marker = :alliance_marker, first_kingdom = :first_kingdom,
	second_kingdom = :second_kingdom, third_kingdom = :third_kingdom, updated_at = :updated_at
	WHERE match_id = :match_id`

const updateKingdom = `UPDATE kingdom_infos SET gold = :gold, rice = :rice,
	population_support_token = :population_support_token, untrained_troops = :untrained_troops,
	trained_troops = :trained_troops, station_troops = :station_troops, spear = :spear,
	crossbow = :crossbow, horse = :horse, vessel = :vessel, red_card = :red_card,
	yellow_card = :yellow_card, total_general = :total_general, station_general = :station_general,
	unused_general = :unused_general, flipped_market = :flipped_market, flipped_farm = :flipped_farm,
	developed_market = :developed_market, developed_farm = :developed_farm,
	market_flag_vp = :market_flag_vp, farm_flag_vp = :farm_flag_vp,
	market_flag_no_vp = :market_flag_no_vp, farm_flag_no_vp = :farm_flag_no_vp,
	military_victory_points = :military_victory_points, economic_level = :economic_level,
	tribal_level = :tribal_level, rank_level = :rank_level, wei_border_level = :wei_border_level,
	shu_border_level = :shu_border_level, wu_border_level = :wu_border_level,
	emperor_token = :emperor_token, updated_at = :updated_at
	WHERE match_id = :match_id AND kingdom = :kingdom`

// MatchRepo implements store.MatchReader with sqlx.
type MatchRepo struct {
	db *sqlx.DB
}

// NewMatchRepo returns a new MatchRepo.
func NewMatchRepo(db *sqlx.DB) *MatchRepo {
	return &MatchRepo{db: db}
}

func (r *MatchRepo) GetMatch(ctx context.Context, id int64) (*match.Aggregate, error) {
	return loadMatch(ctx, r.db, id, false)
}

func (r *MatchRepo) ListMatches(ctx context.Context, status match.Status) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM matches WHERE status = $1 ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	return ids, nil
}

// loadMatch reads the header, detail and kingdoms of one match. With lock
// set the header row is held FOR UPDATE until the transaction ends.
func loadMatch(ctx context.Context, q sqlx.QueryerContext, id int64, lock bool) (*match.Aggregate, error) {
	query := selectHeader
	if lock {
		query += " FOR UPDATE"
	}
	var h headerRow
	if err := sqlx.GetContext(ctx, q, &h, query, id); err != nil {
		if isNoRows(err) {
			return nil, store.NotFound("match", id)
		}
		return nil, mapError("loading match header", err)
	}
	h.Header.ActivePlayers = []int64(h.ActivePlayers)

	var b match.Bundle
	if err := sqlx.GetContext(ctx, q, &b.Detail, selectDetail, id); err != nil {
		if isNoRows(err) {
			return nil, store.NotFound("match detail", id)
		}
		return nil, fmt.Errorf("loading match detail: %w", err)
	}
	if err := sqlx.SelectContext(ctx, q, &b.Kingdoms, selectKingdoms, id); err != nil {
		return nil, fmt.Errorf("loading kingdoms: %w", err)
	}

	a, err := match.NewAggregate(h.Header, b)
	if err != nil {
		return nil, fmt.Errorf("assembling match %d: %w", id, err)
	}
	return a, nil
}

func createHeader(ctx context.Context, tx *sqlx.Tx, h *match.Header, now time.Time) error {
	h.CreatedAt, h.UpdatedAt = now, now
	h.Version = 1
	err := tx.QueryRowxContext(ctx,
		`INSERT INTO matches (room_id, wei_player_id, shu_player_id, wu_player_id, status,
		 current_turn, wei_turn, shu_turn, wu_turn, active_players, version, last_seq,
		 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		h.RoomID, h.WeiPlayerID, h.ShuPlayerID, h.WuPlayerID, h.Status,
		h.CurrentTurn, h.WeiTurn, h.ShuTurn, h.WuTurn, pq.Int64Array(h.ActivePlayers), h.Version, h.LastSeq,
		h.CreatedAt, h.UpdatedAt,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("inserting match header: %w", err)
	}
	return nil
}

func createState(ctx context.Context, tx *sqlx.Tx, a *match.Aggregate, now time.Time) error {
	a.Detail.CreatedAt, a.Detail.UpdatedAt = now, now
	if _, err := tx.NamedExecContext(ctx, insertDetail, &a.Detail); err != nil {
		return fmt.Errorf("inserting match detail: %w", err)
	}
	for _, ki := range a.SortedKingdoms() {
		ki.CreatedAt, ki.UpdatedAt = now, now
		if _, err := tx.NamedExecContext(ctx, insertKingdom, ki); err != nil {
			return fmt.Errorf("inserting kingdom %s: %w", ki.Kingdom, err)
		}
	}
	return nil
}

// saveMatch writes a back guarded by its version. last_seq is owned by
// appendEvent and is not written here.
func saveMatch(ctx context.Context, tx *sqlx.Tx, a *match.Aggregate, now time.Time) error {
	h := &a.Header
	res, err := tx.ExecContext(ctx,
		`UPDATE matches SET status = $1, current_turn = $2, wei_turn = $3, shu_turn = $4,
		 wu_turn = $5, active_players = $6, version = version + 1, updated_at = $7
		 WHERE id = $8 AND version = $9`,
		h.Status, h.CurrentTurn, h.WeiTurn, h.ShuTurn, h.WuTurn, pq.Int64Array(h.ActivePlayers),
		now, h.ID, h.Version,
	)
	if err != nil {
		return mapError("saving match header", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving match header: %w", err)
	}
	if n == 0 {
		return store.Conflict(fmt.Sprintf("saving match %d at version %d", h.ID, h.Version), nil)
	}
	h.Version++
	h.UpdatedAt = now

	a.Detail.UpdatedAt = now
	if _, err := tx.NamedExecContext(ctx, updateDetail, &a.Detail); err != nil {
		return mapError("saving match detail", err)
	}
	for _, ki := range a.SortedKingdoms() {
		ki.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, updateKingdom, ki); err != nil {
			return mapError(fmt.Sprintf("saving kingdom %s", ki.Kingdom), err)
		}
	}
	return nil
}
