// Package roles is the live role store mutated by governance actions.
package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/stake-plus/govdecisions/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("role not found")

// Rule is a single permission grant.
type Rule struct {
	Action  types.AbilityAction
	Subject types.AbilitySubject
}

// Store works on whatever handle it is given; pass a transaction to make a
// sequence of calls atomic.
type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) Store { return Store{db: db} }

func (s Store) GetRole(ctx context.Context, id string) (types.Role, error) {
	var role types.Role
	err := s.db.WithContext(ctx).
		Preload("Permissions").
		Preload("Members").
		First(&role, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Role{}, ErrNotFound
	}
	if err != nil {
		return types.Role{}, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

// UpdateRole sets whichever of name and color is non-nil.
func (s Store) UpdateRole(ctx context.Context, id string, name, color *string) error {
	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = *name
	}
	if color != nil {
		updates["color"] = *color
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&types.Role{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRole inserts the role together with its permissions and members.
func (s Store) CreateRole(ctx context.Context, role *types.Role) error {
	if err := s.db.WithContext(ctx).Create(role).Error; err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// AddPermissions grants rules, ignoring ones the role already has.
func (s Store) AddPermissions(ctx context.Context, roleID string, rules []Rule) error {
	if len(rules) == 0 {
		return nil
	}
	rows := make([]types.Permission, 0, len(rules))
	for _, r := range rules {
		rows = append(rows, types.Permission{RoleID: roleID, Action: r.Action, Subject: r.Subject})
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("add permissions: %w", err)
	}
	return nil
}

func (s Store) RemovePermissions(ctx context.Context, roleID string, rules []Rule) error {
	for _, r := range rules {
		err := s.db.WithContext(ctx).
			Where("role_id = ? AND action = ? AND subject = ?", roleID, r.Action, r.Subject).
			Delete(&types.Permission{}).Error
		if err != nil {
			return fmt.Errorf("remove permission %s:%s: %w", r.Action, r.Subject, err)
		}
	}
	return nil
}

// AddMembers is idempotent per user.
func (s Store) AddMembers(ctx context.Context, roleID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]types.RoleMember, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, types.RoleMember{RoleID: roleID, UserID: id})
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("add role members: %w", err)
	}
	return nil
}

func (s Store) RemoveMembers(ctx context.Context, roleID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("role_id = ? AND user_id IN ?", roleID, userIDs).
		Delete(&types.RoleMember{}).Error
	if err != nil {
		return fmt.Errorf("remove role members: %w", err)
	}
	return nil
}
