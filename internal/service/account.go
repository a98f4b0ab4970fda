// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"treasure-hunt/internal/model"
	"treasure-hunt/internal/repository"
)

// ErrInvalidRecipient is returned for an empty push recipient.
var ErrInvalidRecipient = errors.New("invalid push recipient")

// AccountService handles user balance operations.
type AccountService struct {
	store repository.Store
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(store repository.Store) *AccountService {
	return &AccountService{store: store}
}

// GetBalance returns the user's prize ledger. A user who never won gets a
// zero record.
func (s *AccountService) GetBalance(ctx context.Context, userID string) (*model.UserBalance, error) {
	b, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return &model.UserBalance{UserID: userID}, nil
		}
		return nil, fmt.Errorf("%w: failed to get balance: %w", ErrStoreUnavailable, err)
	}
	return b, nil
}

// RegisterPushRecipient stores where winner notifications go, e.g. a
// Telegram chat id.
func (s *AccountService) RegisterPushRecipient(ctx context.Context, userID, recipient string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return ErrInvalidRecipient
	}
	if err := s.store.SetPushRecipient(ctx, userID, recipient); err != nil {
		return fmt.Errorf("%w: failed to set push recipient: %w", ErrStoreUnavailable, err)
	}

	log.Info().Str("user_id", userID).Msg("Push recipient registered")
	return nil
}
