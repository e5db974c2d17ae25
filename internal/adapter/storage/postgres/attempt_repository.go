package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sunnypayments/core/internal/domain"
	"github.com/sunnypayments/core/internal/ports"
)

type AttemptRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewAttemptRepository(db *gorm.DB, log *zap.Logger) ports.AttemptRepository {
	return &AttemptRepository{
		db:  db,
		log: log,
	}
}

func (r *AttemptRepository) Save(ctx context.Context, attempt *domain.Attempt) error {
	return r.db.WithContext(ctx).Save(attempt).Error
}

func (r *AttemptRepository) Get(ctx context.Context, transactionID string) (*domain.Attempt, error) {
	var attempt domain.Attempt
	err := r.db.WithContext(ctx).First(&attempt, "transaction_id = ?", transactionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *AttemptRepository) GetByChallengeID(ctx context.Context, challengeID string) (*domain.Attempt, error) {
	var attempt domain.Attempt
	err := r.db.WithContext(ctx).
		Where("challenge_id = ?", challengeID).
		Order("created_at desc").
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}
