// Package channels answers channel membership questions for the decision engine.
package channels

import (
	"context"
	"fmt"

	"github.com/stake-plus/govdecisions/src/types"
	"gorm.io/gorm"
)

// Membership is what the engine needs to know about channel members.
type Membership interface {
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
	ListMembers(ctx context.Context, channelID string) ([]string, error)
}

// Store reads membership from the channel_members table.
type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) Store { return Store{db: db} }

func (s Store) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&types.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("channel membership: %w", err)
	}
	return n > 0, nil
}

// ListMembers returns member user IDs in join order.
func (s Store) ListMembers(ctx context.Context, channelID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&types.ChannelMember{}).
		Where("channel_id = ?", channelID).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list channel members: %w", err)
	}
	return ids, nil
}
