package database

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrTradeNotPending   = errors.New("trade offer is not pending")
	ErrActiveTradeExists = errors.New("match already has a pending trade offer")
	ErrClothingMissing   = errors.New("traded clothing item no longer exists")
)

const (
	uniqueViolation      = pq.ErrorCode("23505")
	onePendingOfferIndex = "trade_offers_one_pending_idx"
)

// isPendingOfferViolation reports whether err was raised by the partial
// unique index that allows a single pending offer per match.
func isPendingOfferViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return pqErr.Code == uniqueViolation && pqErr.Constraint == onePendingOfferIndex
}
