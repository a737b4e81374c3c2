package service

import (
	"context"
	"fmt"

	"github.com/louisbranch/passlock/internal/account"
)

// CreateAccount registers a new account identity. The account starts with
// no credentials; the first passkey registration needs no reauthentication
// proof.
func (s *Service) CreateAccount(ctx context.Context, email string) (account.Account, error) {
	acct, err := account.Create(account.CreateInput{Email: email}, s.clock, s.idGenerator)
	if err != nil {
		return account.Account{}, err
	}
	if err := s.accounts.PutAccount(ctx, acct); err != nil {
		return account.Account{}, fmt.Errorf("store account: %w", err)
	}
	return acct, nil
}

// GetAccount loads an account by ID.
func (s *Service) GetAccount(ctx context.Context, accountID string) (account.Account, error) {
	return s.accounts.GetAccount(ctx, accountID)
}
