package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luminapix/backend/internal/audit"
	"github.com/luminapix/backend/internal/models"
)

// LedgerService owns all balance mutation. Every operation runs as a
// single transaction holding a row lock on the account, so mutations on
// one account are serialized while different accounts proceed in
// parallel.
type LedgerService struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: audit.NewLogger(),
	}
}

// Reserve debits amount from the account as a usage entry. Fails with
// ErrInsufficientFunds before writing anything if the balance does not
// cover the amount.
func (s *LedgerService) Reserve(ctx context.Context, accountID string, amount int64, reason string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.ReserveTx(ctx, tx, accountID, amount, reason)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReserveTx is Reserve running inside a caller-owned transaction, so the
// admission path can create the job it funds in the same commit.
func (s *LedgerService) ReserveTx(ctx context.Context, tx *sql.Tx, accountID string, amount int64, reason string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reserve amount must be positive, got %d", amount)
	}

	account, err := s.lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	if account.Balance < amount {
		return nil, fmt.Errorf("%w: required %d, available %d", ErrInsufficientFunds, amount, account.Balance)
	}

	entry, err := s.appendEntry(ctx, tx, account, -amount, models.EntryUsage, reason, "")
	if err != nil {
		return nil, err
	}

	account.Balance -= amount
	account.TotalUsed += amount
	if err := s.updateAccount(ctx, tx, account); err != nil {
		return nil, err
	}

	s.audit.LogEntry(entry)
	return entry, nil
}

// Refund credits amount back to the account. Idempotent per key: a prior
// refund entry carrying the same key is returned unchanged instead of
// crediting twice. The originating job id is the conventional key.
func (s *LedgerService) Refund(ctx context.Context, accountID string, amount int64, reason, idempotencyKey string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.RefundTx(ctx, tx, accountID, amount, reason, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// RefundTx is Refund inside a caller-owned transaction.
func (s *LedgerService) RefundTx(ctx context.Context, tx *sql.Tx, accountID string, amount int64, reason, idempotencyKey string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	// Lock first so concurrent refunds with the same key serialize.
	account, err := s.lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		existing, err := s.findRefund(ctx, tx, accountID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	entry, err := s.appendEntry(ctx, tx, account, amount, models.EntryRefund, reason, idempotencyKey)
	if err != nil {
		return nil, err
	}

	account.Balance += amount
	account.TotalUsed -= amount
	if err := s.updateAccount(ctx, tx, account); err != nil {
		return nil, err
	}

	s.audit.LogEntry(entry)
	return entry, nil
}

// Purchase credits the account with bought credits. paymentRef is stored
// for audit; validating the payment is the payment provider's job.
func (s *LedgerService) Purchase(ctx context.Context, accountID string, amount int64, paymentRef string) (*models.LedgerEntry, error) {
	return s.credit(ctx, accountID, amount, models.EntryPurchase, "credits purchased", paymentRef)
}

// Grant credits the account with bonus credits.
func (s *LedgerService) Grant(ctx context.Context, accountID string, amount int64, reason string) (*models.LedgerEntry, error) {
	return s.credit(ctx, accountID, amount, models.EntryBonus, reason, "")
}

func (s *LedgerService) credit(ctx context.Context, accountID string, amount int64, kind models.EntryKind, reason, reference string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	entry, err := s.appendEntry(ctx, tx, account, amount, kind, reason, reference)
	if err != nil {
		return nil, err
	}

	account.Balance += amount
	if kind == models.EntryPurchase {
		account.TotalPurchased += amount
	}
	if err := s.updateAccount(ctx, tx, account); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogEntry(entry)
	return entry, nil
}

// Balance returns the cached balance, reflecting all committed mutations.
func (s *LedgerService) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// History lists the account's ledger entries, newest first.
func (s *LedgerService) History(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, amount, kind, balance_before, balance_after, reason, reference, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.BalanceBefore, &e.BalanceAfter, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, balance, total_purchased, total_used, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance, &account.TotalPurchased, &account.TotalUsed, &account.Version, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) findRefund(ctx context.Context, tx *sql.Tx, accountID, reference string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := tx.QueryRowContext(ctx, `
		SELECT id, account_id, amount, kind, balance_before, balance_after, reason, reference, created_at
		FROM ledger_entries
		WHERE account_id = $1 AND kind = 'refund' AND reference = $2
		LIMIT 1`, accountID, reference).Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.BalanceBefore, &e.BalanceAfter, &e.Reason, &e.Reference, &e.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *LedgerService) appendEntry(ctx context.Context, tx *sql.Tx, account *models.Account, amount int64, kind models.EntryKind, reason, reference string) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		ID:            uuid.NewString(),
		AccountID:     account.ID,
		Amount:        amount,
		Kind:          kind,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance + amount,
		Reason:        reason,
		Reference:     reference,
		CreatedAt:     time.Now(),
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, kind, balance_before, balance_after, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.AccountID, entry.Amount, string(entry.Kind), entry.BalanceBefore, entry.BalanceAfter, entry.Reason, entry.Reference, entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) updateAccount(ctx context.Context, tx *sql.Tx, account *models.Account) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, total_purchased = $2, total_used = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6`,
		account.Balance, account.TotalPurchased, account.TotalUsed, time.Now(), account.ID, account.Version)

	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", account.ID)
	}

	return nil
}
