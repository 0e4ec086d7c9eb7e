package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/closetswap/swapchat/internal/types"
	"github.com/lib/pq"
)

const (
	getMatchQuery = `
		SELECT
				m.id,
				m.created_at,
				ua.id, ua.username, COALESCE(ua.name, ''), COALESCE(ua.profile_picture, ''),
				ub.id, ub.username, COALESCE(ub.name, ''), COALESCE(ub.profile_picture, ''),
				m.clothing_a_id, COALESCE(ca.owner_id, 0), COALESCE(ca.name, ''), COALESCE(ca.category, ''), COALESCE(ca.image_urls, '{}'),
				m.clothing_b_id, COALESCE(cb.owner_id, 0), COALESCE(cb.name, ''), COALESCE(cb.category, ''), COALESCE(cb.image_urls, '{}')
		FROM matches m
		JOIN users ua ON ua.id = m.user_a_id
		JOIN users ub ON ub.id = m.user_b_id
		LEFT JOIN clothing ca ON ca.id = m.clothing_a_id
		LEFT JOIN clothing cb ON cb.id = m.clothing_b_id
		WHERE m.id = $1
`

	createMessageQuery = `
		WITH inserted AS (
			INSERT INTO messages (match_id, sender_id, content, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id, match_id, sender_id, content, created_at
		)
		SELECT i.id, i.match_id, i.sender_id, i.content, i.created_at,
				u.id, u.username, COALESCE(u.name, ''), COALESCE(u.profile_picture, '')
		FROM inserted i
		JOIN users u ON u.id = i.sender_id
`

	listMessagesQuery = `
		SELECT m.id, m.match_id, m.sender_id, m.content, m.created_at,
				u.id, u.username, COALESCE(u.name, ''), COALESCE(u.profile_picture, '')
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.match_id = $1
`

	tradeOfferColumns = "id, match_id, from_user_id, to_user_id, clothing_from_id, clothing_to_id, status, created_at, updated_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (types.Message, error) {
	var msg types.Message
	err := row.Scan(
		&msg.Id,
		&msg.MatchId,
		&msg.SenderId,
		&msg.Content,
		&msg.CreatedAt,
		&msg.Sender.Id,
		&msg.Sender.Username,
		&msg.Sender.Name,
		&msg.Sender.ProfilePicture,
	)

	return msg, err
}

func scanTradeOffer(row rowScanner) (types.TradeOffer, error) {
	var offer types.TradeOffer
	err := row.Scan(
		&offer.Id,
		&offer.MatchId,
		&offer.FromUserId,
		&offer.ToUserId,
		&offer.ClothingFromId,
		&offer.ClothingToId,
		&offer.Status,
		&offer.CreatedAt,
		&offer.UpdatedAt,
	)

	return offer, err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (db *PgSwapChatRepository) GetMatch(ctx context.Context, matchId int) (types.Match, error) {
	row := db.conn.QueryRowContext(ctx, getMatchQuery, matchId)

	var m types.Match
	err := row.Scan(
		&m.Id,
		&m.CreatedAt,
		&m.UserA.Id, &m.UserA.Username, &m.UserA.Name, &m.UserA.ProfilePicture,
		&m.UserB.Id, &m.UserB.Username, &m.UserB.Name, &m.UserB.ProfilePicture,
		&m.ClothingA.Id, &m.ClothingA.OwnerId, &m.ClothingA.Name, &m.ClothingA.Category, pq.Array(&m.ClothingA.ImageUrls),
		&m.ClothingB.Id, &m.ClothingB.OwnerId, &m.ClothingB.Name, &m.ClothingB.Category, pq.Array(&m.ClothingB.ImageUrls),
	)
	if err != nil {
		return types.Match{}, notFound(err)
	}

	return m, nil
}

func (db *PgSwapChatRepository) GetClothing(ctx context.Context, clothingId int) (types.ClothingRef, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, owner_id, name, category, image_urls FROM clothing WHERE id = $1",
		clothingId,
	)

	var c types.ClothingRef
	err := row.Scan(&c.Id, &c.OwnerId, &c.Name, &c.Category, pq.Array(&c.ImageUrls))
	if err != nil {
		return types.ClothingRef{}, notFound(err)
	}

	return c, nil
}

func (db *PgSwapChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := db.conn.QueryRowContext(ctx,
		createMessageQuery,
		params.MatchId,
		params.SenderId,
		params.Content,
		createdAt,
	)

	msg, err := scanMessage(row)
	if err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

func (db *PgSwapChatRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]types.Message, error) {
	params = params.normalize()

	query := listMessagesQuery + " ORDER BY m.created_at ASC, m.id ASC LIMIT $2"
	if params.Order == OrderDesc {
		query = listMessagesQuery + " ORDER BY m.created_at DESC, m.id DESC LIMIT $2"
	}

	rows, err := db.conn.QueryContext(ctx, query, params.MatchId, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages = make([]types.Message, 0, params.Limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (db *PgSwapChatRepository) CreateTradeOffer(ctx context.Context, params CreateTradeOfferParams) (types.TradeOffer, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO trade_offers (match_id, from_user_id, to_user_id, clothing_from_id, clothing_to_id, status, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING "+tradeOfferColumns,
		params.MatchId,
		params.FromUserId,
		params.ToUserId,
		params.ClothingFromId,
		params.ClothingToId,
		types.TradeStatusPending,
		createdAt,
	)

	offer, err := scanTradeOffer(row)
	if err != nil {
		if isPendingOfferViolation(err) {
			return types.TradeOffer{}, ErrActiveTradeExists
		}
		return types.TradeOffer{}, fmt.Errorf("insert trade offer: %w", err)
	}

	return offer, nil
}

func (db *PgSwapChatRepository) GetTradeOffer(ctx context.Context, tradeId int) (types.TradeOffer, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+tradeOfferColumns+" FROM trade_offers WHERE id = $1",
		tradeId,
	)

	offer, err := scanTradeOffer(row)
	if err != nil {
		return types.TradeOffer{}, notFound(err)
	}

	return offer, nil
}

func (db *PgSwapChatRepository) ListTradeOffers(ctx context.Context, matchId int) ([]types.TradeOffer, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+tradeOfferColumns+" FROM trade_offers WHERE match_id = $1 ORDER BY created_at DESC, id DESC",
		matchId,
	)
	if err != nil {
		return nil, fmt.Errorf("list trade offers: %w", err)
	}
	defer rows.Close()

	offers := make([]types.TradeOffer, 0)
	for rows.Next() {
		offer, err := scanTradeOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade offer: %w", err)
		}

		offers = append(offers, offer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return offers, nil
}

// AcceptTradeOffer marks a pending offer as accepted and deletes both traded
// clothing items in a single transaction. The offer row is locked for the
// duration so concurrent accept/decline calls serialize behind it.
func (db *PgSwapChatRepository) AcceptTradeOffer(ctx context.Context, tradeId int) (offer types.TradeOffer, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.TradeOffer{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var (
		status                       types.TradeStatus
		clothingFromId, clothingToId int64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT status, clothing_from_id, clothing_to_id FROM trade_offers WHERE id = $1 FOR UPDATE",
		tradeId,
	).Scan(&status, &clothingFromId, &clothingToId)
	if err != nil {
		err = notFound(err)
		return types.TradeOffer{}, err
	}

	if status != types.TradeStatusPending {
		err = ErrTradeNotPending
		return types.TradeOffer{}, err
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM clothing WHERE id = ANY($1)",
		pq.Array([]int64{clothingFromId, clothingToId}),
	)
	if err != nil {
		return types.TradeOffer{}, fmt.Errorf("delete traded clothing: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return types.TradeOffer{}, err
	}

	if deleted != 2 {
		err = ErrClothingMissing
		return types.TradeOffer{}, err
	}

	offer, err = scanTradeOffer(tx.QueryRowContext(ctx,
		"UPDATE trade_offers SET status = $2, updated_at = $3 WHERE id = $1 RETURNING "+tradeOfferColumns,
		tradeId,
		types.TradeStatusAccepted,
		time.Now().UTC(),
	))
	if err != nil {
		return types.TradeOffer{}, fmt.Errorf("update trade offer: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return types.TradeOffer{}, err
	}

	return offer, nil
}

func (db *PgSwapChatRepository) DeclineTradeOffer(ctx context.Context, tradeId int) (types.TradeOffer, error) {
	offer, err := scanTradeOffer(db.conn.QueryRowContext(ctx,
		"UPDATE trade_offers SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4 RETURNING "+tradeOfferColumns,
		tradeId,
		types.TradeStatusDeclined,
		time.Now().UTC(),
		types.TradeStatusPending,
	))
	if err == nil {
		return offer, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return types.TradeOffer{}, fmt.Errorf("update trade offer: %w", err)
	}

	// nothing updated: either the offer does not exist or it already left
	// the pending state
	if _, err := db.GetTradeOffer(ctx, tradeId); err != nil {
		return types.TradeOffer{}, err
	}

	return types.TradeOffer{}, ErrTradeNotPending
}
