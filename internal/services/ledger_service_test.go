package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/luminapix/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accountRow(balance, totalPurchased, totalUsed, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "balance", "total_purchased", "total_used", "version", "updated_at"}).
		AddRow("acct-1", balance, totalPurchased, totalUsed, version, time.Now())
}

func entryColumns() []string {
	return []string{"id", "account_id", "amount", "kind", "balance_before", "balance_after", "reason", "reference", "created_at"}
}

func expectLockAccount(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT id, balance, total_purchased, total_used, version, updated_at FROM accounts WHERE id = \\$1 FOR UPDATE").
		WithArgs("acct-1").
		WillReturnRows(rows)
}

// Concurrent Reserve calls racing on one account cannot drive the
// balance negative: every mutation holds the FOR UPDATE row lock (see
// lockAccount) so the balance check and the debit are serialized by
// Postgres. sqlmock runs a single scripted connection and cannot
// exhibit the race; exercising it needs a real database.
func TestReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("debits balance and appends usage entry", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		expectLockAccount(mock, accountRow(10, 10, 0, 3))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "acct-1", int64(-4), "usage", int64(10), int64(6), "enhance job job-1", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(6), int64(10), int64(4), sqlmock.AnyArg(), "acct-1", int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		svc := NewLedgerService(db)
		entry, err := svc.Reserve(ctx, "acct-1", 4, "enhance job job-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(-4), entry.Amount)
		assert.Equal(t, models.EntryUsage, entry.Kind)
		assert.Equal(t, int64(10), entry.BalanceBefore)
		assert.Equal(t, int64(6), entry.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance writes nothing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		expectLockAccount(mock, accountRow(2, 2, 0, 1))
		mock.ExpectRollback()

		svc := NewLedgerService(db)
		_, err = svc.Reserve(ctx, "acct-1", 4, "enhance job job-1")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		expectLockAccount(mock, sqlmock.NewRows([]string{"id", "balance", "total_purchased", "total_used", "version", "updated_at"}))
		mock.ExpectRollback()

		svc := NewLedgerService(db)
		_, err = svc.Reserve(ctx, "acct-1", 4, "enhance job job-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		svc := NewLedgerService(db)
		_, err = svc.Reserve(ctx, "acct-1", 0, "enhance job job-1")
		assert.Error(t, err)
	})
}

func TestRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("credits balance back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		expectLockAccount(mock, accountRow(6, 10, 4, 4))
		mock.ExpectQuery("SELECT id, account_id, amount, kind, balance_before, balance_after, reason, reference, created_at FROM ledger_entries").
			WithArgs("acct-1", "job-1").
			WillReturnRows(sqlmock.NewRows(entryColumns()))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "acct-1", int64(4), "refund", int64(6), int64(10), "job job-1 cancelled", "job-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(10), int64(10), int64(0), sqlmock.AnyArg(), "acct-1", int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		svc := NewLedgerService(db)
		entry, err := svc.Refund(ctx, "acct-1", 4, "job job-1 cancelled", "job-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(4), entry.Amount)
		assert.Equal(t, models.EntryRefund, entry.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeated refund with same key returns stored entry", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		created := time.Now()
		mock.ExpectBegin()
		expectLockAccount(mock, accountRow(10, 10, 0, 5))
		mock.ExpectQuery("SELECT id, account_id, amount, kind, balance_before, balance_after, reason, reference, created_at FROM ledger_entries").
			WithArgs("acct-1", "job-1").
			WillReturnRows(sqlmock.NewRows(entryColumns()).
				AddRow("entry-1", "acct-1", int64(4), "refund", int64(6), int64(10), "job job-1 cancelled", "job-1", created))
		mock.ExpectCommit()

		svc := NewLedgerService(db)
		entry, err := svc.Refund(ctx, "acct-1", 4, "job job-1 cancelled", "job-1")
		assert.NoError(t, err)
		assert.Equal(t, "entry-1", entry.ID)
		assert.Equal(t, int64(10), entry.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPurchaseAndGrant(t *testing.T) {
	ctx := context.Background()

	t.Run("purchase bumps total purchased", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		expectLockAccount(mock, accountRow(0, 0, 0, 0))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "acct-1", int64(50), "purchase", int64(0), int64(50), "credits purchased", "pay-123", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(50), int64(50), int64(0), sqlmock.AnyArg(), "acct-1", int64(0)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		svc := NewLedgerService(db)
		entry, err := svc.Purchase(ctx, "acct-1", 50, "pay-123")
		assert.NoError(t, err)
		assert.Equal(t, models.EntryPurchase, entry.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("grant leaves total purchased alone", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		expectLockAccount(mock, accountRow(5, 0, 0, 2))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "acct-1", int64(10), "bonus", int64(5), int64(15), "signup bonus", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(15), int64(0), int64(0), sqlmock.AnyArg(), "acct-1", int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		svc := NewLedgerService(db)
		entry, err := svc.Grant(ctx, "acct-1", 10, "signup bonus")
		assert.NoError(t, err)
		assert.Equal(t, models.EntryBonus, entry.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOptimisticLockConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectLockAccount(mock, accountRow(10, 10, 0, 3))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	svc := NewLedgerService(db)
	_, err = svc.Reserve(context.Background(), "acct-1", 4, "enhance job job-1")
	assert.ErrorContains(t, err, "optimistic lock failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceAndHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("balance", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(42))

		svc := NewLedgerService(db)
		balance, err := svc.Balance(ctx, "acct-1")
		assert.NoError(t, err)
		assert.Equal(t, int64(42), balance)
	})

	t.Run("balance for unknown account", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = \\$1").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))

		svc := NewLedgerService(db)
		_, err = svc.Balance(ctx, "acct-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("history pages newest first", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT id, account_id, amount, kind, balance_before, balance_after, reason, reference, created_at FROM ledger_entries").
			WithArgs("acct-1", 20, 0).
			WillReturnRows(sqlmock.NewRows(entryColumns()).
				AddRow("entry-2", "acct-1", int64(-2), "usage", int64(10), int64(8), "upscale job job-2", "", time.Now()).
				AddRow("entry-1", "acct-1", int64(10), "purchase", int64(0), int64(10), "credits purchased", "pay-1", time.Now()))

		svc := NewLedgerService(db)
		entries, err := svc.History(ctx, "acct-1", 20, 0)
		assert.NoError(t, err)
		assert.Len(t, entries, 2)
		assert.Equal(t, "entry-2", entries[0].ID)
	})
}
