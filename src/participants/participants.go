// Package participants counts the users eligible to take part in decisions.
package participants

import (
	"context"
	"fmt"

	"github.com/stake-plus/govdecisions/src/types"
	"gorm.io/gorm"
)

// Source yields the eligible participant count at evaluation time.
type Source interface {
	CountEligible(ctx context.Context) (int, error)
}

// Store counts non-anonymous, unlocked users across the whole instance.
type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) Store { return Store{db: db} }

func (s Store) CountEligible(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&types.User{}).
		Where("anonymous = ? AND locked = ?", false, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return int(n), nil
}

// Fixed is a constant Source.
type Fixed int

func (f Fixed) CountEligible(context.Context) (int, error) { return int(f), nil }
