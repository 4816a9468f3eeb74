package psql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lingopipe/internal/domain/entity"
	"lingopipe/internal/domain/usecase"
)

// errStaleBalance signals a lost optimistic-concurrency race; the operation
// is retried against the fresh balance.
var errStaleBalance = errors.New("stale balance")

const maxLedgerRetries = 5

// LedgerRepo owns the user credit balance and the append-only transaction
// log. Every mutation goes through applyEntry, which pairs a compare-and-swap
// balance update with exactly one transaction row inside one DB transaction.
type LedgerRepo struct {
	db *gorm.DB
}

func NewLedgerRepo(db *gorm.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) GetUser(ctx context.Context, userID string) (*entity.User, error) {
	var user entity.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, usecase.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *LedgerRepo) Balance(ctx context.Context, userID string) (int64, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

// Debit removes credits, failing with ErrInsufficientCredits before any
// mutation when the balance does not cover the amount.
func (r *LedgerRepo) Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	return r.applyEntry(ctx, r.db, userID, amount, entity.TxDeduction, reason, nil)
}

// DebitForJob is Debit with at-most-once semantics per job id, backed by the
// unique index on credit_transactions.job_id.
func (r *LedgerRepo) DebitForJob(ctx context.Context, userID, jobID string, amount int64, reason string) (int64, error) {
	return r.applyEntry(ctx, r.db, userID, amount, entity.TxDeduction, reason, &jobID)
}

// Credit adds (or for refunds, removes, floored at zero) credits.
func (r *LedgerRepo) Credit(ctx context.Context, userID string, amount int64, txType entity.TransactionType, reason string) (int64, error) {
	return r.applyEntry(ctx, r.db, userID, amount, txType, reason, nil)
}

func (r *LedgerRepo) History(ctx context.Context, userID string, limit int) ([]entity.CreditTransaction, error) {
	var txs []entity.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// applyEntry runs one ledger mutation. The balance write is conditional on
// the balance read at the start of the attempt, so two concurrent mutations
// on the same user serialize: the loser retries against the new balance.
func (r *LedgerRepo) applyEntry(ctx context.Context, db *gorm.DB, userID string, amount int64, txType entity.TransactionType, reason string, jobID *string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("ledger amount must be non-negative")
	}

	var balanceAfter int64
	for attempt := 0; attempt < maxLedgerRetries; attempt++ {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var user entity.User
			if err := tx.First(&user, "id = ?", userID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return usecase.ErrNotFound
				}
				return err
			}

			before := user.Credits
			after := before + txType.SignedEffect(amount)
			if after < 0 {
				if txType == entity.TxDeduction {
					return usecase.ErrInsufficientCredits
				}
				// Refunds never drive the balance negative.
				after = 0
			}

			if jobID != nil {
				var n int64
				if err := tx.Model(&entity.CreditTransaction{}).
					Where("job_id = ?", *jobID).
					Count(&n).Error; err != nil {
					return err
				}
				if n > 0 {
					return usecase.ErrAlreadyCharged
				}
			}

			res := tx.Model(&entity.User{}).
				Where("id = ? AND credits = ?", userID, before).
				UpdateColumn("credits", after)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errStaleBalance
			}

			entry := entity.CreditTransaction{
				ID:            uuid.New().String(),
				UserID:        userID,
				Type:          txType,
				Amount:        amount,
				Reason:        reason,
				JobID:         jobID,
				BalanceBefore: before,
				BalanceAfter:  after,
				CreatedAt:     time.Now().UTC(),
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}

			balanceAfter = after
			return nil
		})

		if errors.Is(err, errStaleBalance) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return balanceAfter, nil
	}

	return 0, fmt.Errorf("ledger update for user %s kept losing balance races", userID)
}
