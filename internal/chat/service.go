package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/closetswap/swapchat/internal/database"
	"github.com/closetswap/swapchat/internal/types"
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrMatchNotFound  = errors.New("match not found")
	ErrNotParticipant = errors.New("user is not a participant of this match")
)

// Service persists chat messages and answers history queries. It backs both
// the realtime send path and the HTTP fallback.
type Service struct {
	log *log.Logger
	db  database.SwapChatRepository
}

func NewService(logger *log.Logger, db database.SwapChatRepository) *Service {
	return &Service{
		log: logger,
		db:  db,
	}
}

// Authorize loads the match and checks that userId is one of its participants.
func (s *Service) Authorize(ctx context.Context, matchId, userId int) (types.Match, error) {
	match, err := s.db.GetMatch(ctx, matchId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.Match{}, ErrMatchNotFound
		}
		return types.Match{}, fmt.Errorf("get match: %w", err)
	}

	if !match.HasParticipant(userId) {
		return types.Match{}, ErrNotParticipant
	}

	return match, nil
}

// Send validates and stores a message from userId in matchId. The returned
// message carries its durable id and the sender projection.
func (s *Service) Send(ctx context.Context, matchId, userId int, content string) (types.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return types.Message{}, ErrEmptyContent
	}

	if _, err := s.Authorize(ctx, matchId, userId); err != nil {
		return types.Message{}, err
	}

	msg, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		MatchId:  matchId,
		SenderId: userId,
		Content:  content,
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	return msg, nil
}

func (s *Service) History(ctx context.Context, matchId, userId, limit int, order database.MessageOrder) ([]types.Message, error) {
	if _, err := s.Authorize(ctx, matchId, userId); err != nil {
		return nil, err
	}

	messages, err := s.db.ListMessages(ctx, database.ListMessagesParams{
		MatchId: matchId,
		Limit:   limit,
		Order:   order,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return messages, nil
}
