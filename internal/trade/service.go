package trade

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/closetswap/swapchat/internal/database"
	"github.com/closetswap/swapchat/internal/stats"
	"github.com/closetswap/swapchat/internal/types"
)

var (
	ErrNotFound            = errors.New("trade offer not found")
	ErrMatchNotFound       = errors.New("match not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidOffer        = errors.New("invalid trade offer")
	ErrNotPending          = errors.New("trade offer is no longer pending")
	ErrActiveOffer         = errors.New("match already has a pending trade offer")
	ErrClothingUnavailable = errors.New("traded clothing is no longer available")
)

// Notifier is told about every offer that was created or changed state.
type Notifier interface {
	TradeOfferChanged(offer types.TradeOffer)
}

type Service struct {
	log      *log.Logger
	db       database.SwapChatRepository
	stats    stats.StatsProvider
	notifier Notifier
}

func NewService(logger *log.Logger, db database.SwapChatRepository, su stats.StatsProvider, n Notifier) *Service {
	if su != nil {
		su.RegisterMetric(stats.TradeOffersCreated)
		su.RegisterMetric(stats.TradeOffersAccepted)
		su.RegisterMetric(stats.TradeOffersDeclined)
	}

	return &Service{
		log:      logger,
		db:       db,
		stats:    su,
		notifier: n,
	}
}

func (s *Service) getMatch(ctx context.Context, matchId, userId int) (types.Match, error) {
	match, err := s.db.GetMatch(ctx, matchId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.Match{}, ErrMatchNotFound
		}
		return types.Match{}, fmt.Errorf("get match: %w", err)
	}

	if !match.HasParticipant(userId) {
		return types.Match{}, ErrForbidden
	}

	return match, nil
}

func (s *Service) getOffer(ctx context.Context, tradeId int) (types.TradeOffer, error) {
	offer, err := s.db.GetTradeOffer(ctx, tradeId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.TradeOffer{}, ErrNotFound
		}
		return types.TradeOffer{}, fmt.Errorf("get trade offer: %w", err)
	}

	return offer, nil
}

// matchItems reports whether the two ids are exactly the items the match was
// made on, in either order.
func matchItems(m types.Match, a, b int) bool {
	return (a == m.ClothingA.Id && b == m.ClothingB.Id) ||
		(a == m.ClothingB.Id && b == m.ClothingA.Id)
}

// checkOwner verifies that clothingId exists and belongs to ownerId.
func (s *Service) checkOwner(ctx context.Context, clothingId, ownerId int) error {
	item, err := s.db.GetClothing(ctx, clothingId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: clothing %d does not exist", ErrInvalidOffer, clothingId)
		}
		return fmt.Errorf("get clothing: %w", err)
	}

	if item.OwnerId != ownerId {
		return fmt.Errorf("%w: clothing %d is not owned by user %d", ErrInvalidOffer, clothingId, ownerId)
	}

	return nil
}

// Create proposes swapping clothingFromId, owned by userId, for clothingToId,
// owned by the other participant of the match.
func (s *Service) Create(ctx context.Context, matchId, clothingFromId, clothingToId, userId int) (types.TradeOffer, error) {
	if matchId <= 0 || clothingFromId <= 0 || clothingToId <= 0 {
		return types.TradeOffer{}, fmt.Errorf("%w: match and both clothing ids are required", ErrInvalidOffer)
	}

	if clothingFromId == clothingToId {
		return types.TradeOffer{}, fmt.Errorf("%w: cannot trade an item for itself", ErrInvalidOffer)
	}

	match, err := s.getMatch(ctx, matchId, userId)
	if err != nil {
		return types.TradeOffer{}, err
	}

	if !matchItems(match, clothingFromId, clothingToId) {
		return types.TradeOffer{}, fmt.Errorf("%w: only the items of match %d can be traded", ErrInvalidOffer, matchId)
	}

	recipient, _ := match.Counterpart(userId)

	if err := s.checkOwner(ctx, clothingFromId, userId); err != nil {
		return types.TradeOffer{}, err
	}

	if err := s.checkOwner(ctx, clothingToId, recipient.Id); err != nil {
		return types.TradeOffer{}, err
	}

	offer, err := s.db.CreateTradeOffer(ctx, database.CreateTradeOfferParams{
		MatchId:        matchId,
		FromUserId:     userId,
		ToUserId:       recipient.Id,
		ClothingFromId: clothingFromId,
		ClothingToId:   clothingToId,
	})
	if err != nil {
		if errors.Is(err, database.ErrActiveTradeExists) {
			return types.TradeOffer{}, ErrActiveOffer
		}
		return types.TradeOffer{}, fmt.Errorf("create trade offer: %w", err)
	}

	s.log.Printf("user %d offered trade %d on match %d", userId, offer.Id, matchId)
	s.changed(offer, stats.TradeOffersCreated)
	return offer, nil
}

// Accept completes a pending offer. Only the recipient may accept. Both traded
// items are removed in the same transaction as the status change.
func (s *Service) Accept(ctx context.Context, tradeId, userId int) (types.TradeOffer, error) {
	offer, err := s.getOffer(ctx, tradeId)
	if err != nil {
		return types.TradeOffer{}, err
	}

	if offer.ToUserId != userId {
		return types.TradeOffer{}, ErrForbidden
	}

	if offer.Status.IsTerminal() {
		return types.TradeOffer{}, ErrNotPending
	}

	accepted, err := s.db.AcceptTradeOffer(ctx, tradeId)
	if err != nil {
		return types.TradeOffer{}, mapStoreError(err)
	}

	s.log.Printf("user %d accepted trade %d on match %d", userId, tradeId, accepted.MatchId)
	s.changed(accepted, stats.TradeOffersAccepted)
	return accepted, nil
}

// Decline ends a pending offer without side effects. The recipient declines
// it, the proposer withdraws it.
func (s *Service) Decline(ctx context.Context, tradeId, userId int) (types.TradeOffer, error) {
	offer, err := s.getOffer(ctx, tradeId)
	if err != nil {
		return types.TradeOffer{}, err
	}

	if userId == 0 || (offer.ToUserId != userId && offer.FromUserId != userId) {
		return types.TradeOffer{}, ErrForbidden
	}

	if offer.Status.IsTerminal() {
		return types.TradeOffer{}, ErrNotPending
	}

	declined, err := s.db.DeclineTradeOffer(ctx, tradeId)
	if err != nil {
		return types.TradeOffer{}, mapStoreError(err)
	}

	s.log.Printf("user %d declined trade %d on match %d", userId, tradeId, declined.MatchId)
	s.changed(declined, stats.TradeOffersDeclined)
	return declined, nil
}

// List returns the offers of a match, newest first.
func (s *Service) List(ctx context.Context, matchId, userId int) ([]types.TradeOffer, error) {
	if _, err := s.getMatch(ctx, matchId, userId); err != nil {
		return nil, err
	}

	offers, err := s.db.ListTradeOffers(ctx, matchId)
	if err != nil {
		return nil, fmt.Errorf("list trade offers: %w", err)
	}

	return offers, nil
}

func (s *Service) changed(offer types.TradeOffer, metric string) {
	if s.stats != nil {
		s.stats.Incr(metric)
	}

	if s.notifier != nil {
		s.notifier.TradeOfferChanged(offer)
	}
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrTradeNotPending):
		return ErrNotPending
	case errors.Is(err, database.ErrClothingMissing):
		return ErrClothingUnavailable
	}

	return fmt.Errorf("update trade offer: %w", err)
}
