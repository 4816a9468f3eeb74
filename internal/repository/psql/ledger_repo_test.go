package psql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingopipe/internal/domain/entity"
	"lingopipe/internal/domain/usecase"
)

func TestLedgerCreditAppendsEntry(t *testing.T) {
	db := newTestDB(t)
	repo := NewLedgerRepo(db)
	user := seedUser(t, db, 0)
	ctx := context.Background()

	balance, err := repo.Credit(ctx, user.ID, 100, entity.TxPurchase, "Purchase via starter package")
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance)

	history, err := repo.History(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.TxPurchase, history[0].Type)
	assert.EqualValues(t, 0, history[0].BalanceBefore)
	assert.EqualValues(t, 100, history[0].BalanceAfter)
}

func TestLedgerDebitInsufficientLeavesNoTrace(t *testing.T) {
	db := newTestDB(t)
	repo := NewLedgerRepo(db)
	user := seedUser(t, db, 5)
	ctx := context.Background()

	_, err := repo.Debit(ctx, user.ID, 10, "transcribe")
	assert.ErrorIs(t, err, usecase.ErrInsufficientCredits)

	balance, err := repo.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, balance)

	history, err := repo.History(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLedgerDebitForJobChargesExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	repo := NewLedgerRepo(db)
	user := seedUser(t, db, 100)
	ctx := context.Background()
	jobID := "6a0bb8f3-9c5a-4a53-93fd-000000000001"

	balance, err := repo.DebitForJob(ctx, user.ID, jobID, 30, "video_translate")
	require.NoError(t, err)
	assert.EqualValues(t, 70, balance)

	_, err = repo.DebitForJob(ctx, user.ID, jobID, 30, "video_translate")
	assert.ErrorIs(t, err, usecase.ErrAlreadyCharged)

	balance, err = repo.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 70, balance)

	history, err := repo.History(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLedgerRefundFloorsAtZero(t *testing.T) {
	db := newTestDB(t)
	repo := NewLedgerRepo(db)
	user := seedUser(t, db, 40)
	ctx := context.Background()

	balance, err := repo.Credit(ctx, user.ID, 100, entity.TxRefund, "Refund for order x")
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)

	history, err := repo.History(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.EqualValues(t, 40, history[0].BalanceBefore)
	assert.EqualValues(t, 0, history[0].BalanceAfter)
}

func TestLedgerRejectsNegativeAmounts(t *testing.T) {
	db := newTestDB(t)
	repo := NewLedgerRepo(db)
	user := seedUser(t, db, 10)

	_, err := repo.Credit(context.Background(), user.ID, -5, entity.TxPurchase, "nope")
	assert.Error(t, err)
}

func TestLedgerUnknownUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewLedgerRepo(db)

	_, err := repo.Balance(context.Background(), "2f36a7e1-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, usecase.ErrNotFound)

	_, err = repo.Debit(context.Background(), "2f36a7e1-0000-0000-0000-000000000000", 1, "x")
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}

// Every entry's balance_after must equal balance_before plus the signed
// amount, and consecutive entries must chain, so the history replays to the
// live balance.
func TestLedgerHistoryChainsToBalance(t *testing.T) {
	db := newTestDB(t)
	repo := NewLedgerRepo(db)
	user := seedUser(t, db, 0)
	ctx := context.Background()

	_, err := repo.Credit(ctx, user.ID, 250, entity.TxPurchase, "Purchase via basic package")
	require.NoError(t, err)
	_, err = repo.Debit(ctx, user.ID, 30, "video_translate")
	require.NoError(t, err)
	_, err = repo.Credit(ctx, user.ID, 20, entity.TxAdminGrant, "goodwill")
	require.NoError(t, err)
	_, err = repo.Debit(ctx, user.ID, 10, "transcribe")
	require.NoError(t, err)

	history, err := repo.History(ctx, user.ID, 100)
	require.NoError(t, err)
	require.Len(t, history, 4)

	// History is newest-first.
	replayed := int64(0)
	for i := len(history) - 1; i >= 0; i-- {
		tx := history[i]
		assert.Equal(t, replayed, tx.BalanceBefore)
		assert.Equal(t, tx.BalanceBefore+tx.Type.SignedEffect(tx.Amount), tx.BalanceAfter)
		replayed = tx.BalanceAfter
	}

	balance, err := repo.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, replayed, balance)
	assert.EqualValues(t, 230, balance)
}
