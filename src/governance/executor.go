// Package governance applies the side effects of ratified proposals.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stake-plus/govdecisions/src/metrics"
	"github.com/stake-plus/govdecisions/src/roles"
	"github.com/stake-plus/govdecisions/src/types"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyExecuted means another caller claimed the action first.
	ErrAlreadyExecuted = errors.New("action already executed")
	// ErrIncompleteActionData is an integrity failure; retrying will not help.
	ErrIncompleteActionData = errors.New("incomplete action data")
	ErrUnknownAction        = errors.New("unknown action type")
)

type Executor struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewExecutor(db *gorm.DB, m *metrics.Metrics) *Executor {
	return &Executor{db: db, metrics: m, now: time.Now}
}

// WithClock swaps the time source used for executed_at.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Execute runs the poll's action, if it has one. The claim and every role
// mutation share one transaction, so a failure leaves the action unclaimed.
func (e *Executor) Execute(ctx context.Context, pollID string) error {
	action, err := e.loadAction(ctx, pollID)
	if err != nil {
		e.metrics.ActionFailed("unknown", "error")
		log.Error("governance action failed to load", "poll", pollID, "err", err)
		return err
	}
	if action == nil {
		return nil
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.PollAction{}).
			Where("id = ? AND executed_at IS NULL", action.ID).
			Update("executed_at", e.now().UTC())
		if res.Error != nil {
			return fmt.Errorf("claim action: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrAlreadyExecuted
		}

		store := roles.NewStore(tx)
		switch action.ActionType {
		case types.ActionChangeRole:
			return changeRole(ctx, tx, store, action.Role)
		case types.ActionCreateRole:
			return createRole(ctx, store, action.Role)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownAction, action.ActionType)
		}
	})

	switch {
	case err == nil:
		e.metrics.ActionExecuted(string(action.ActionType))
		log.Info("governance action executed", "poll", pollID, "action", action.ActionType)
		return nil
	case errors.Is(err, ErrAlreadyExecuted):
		return err
	}

	reason := "error"
	if errors.Is(err, ErrIncompleteActionData) || errors.Is(err, ErrUnknownAction) {
		reason = "integrity"
	}
	e.metrics.ActionFailed(string(action.ActionType), reason)
	log.Error("governance action failed", "poll", pollID, "action", action.ActionType, "reason", reason, "err", err)
	return fmt.Errorf("execute %s for poll %s: %w", action.ActionType, pollID, err)
}

// Pending lists ratified polls whose action never ran.
func (e *Executor) Pending(ctx context.Context) ([]string, error) {
	var ids []string
	err := e.db.WithContext(ctx).
		Model(&types.PollAction{}).
		Joins("JOIN polls ON polls.id = poll_actions.poll_id").
		Where("polls.stage = ? AND poll_actions.executed_at IS NULL", types.StageRatified).
		Order("polls.updated_at ASC").
		Pluck("poll_actions.poll_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	return ids, nil
}

// Replay retries every pending action once and reports how many succeeded.
func (e *Executor) Replay(ctx context.Context) (int, error) {
	ids, err := e.Pending(ctx)
	if err != nil {
		return 0, err
	}
	var (
		done int
		errs []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		switch err := e.Execute(ctx, id); {
		case err == nil:
			done++
		case errors.Is(err, ErrAlreadyExecuted):
		default:
			errs = append(errs, err)
		}
	}
	return done, errors.Join(errs...)
}

func (e *Executor) loadAction(ctx context.Context, pollID string) (*types.PollAction, error) {
	var action types.PollAction
	err := e.db.WithContext(ctx).
		Preload("Role.Permissions").
		Preload("Role.Members").
		First(&action, "poll_id = ?", pollID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load action: %w", err)
	}
	return &action, nil
}

func changeRole(ctx context.Context, tx *gorm.DB, store roles.Store, set *types.PollActionRole) error {
	if set == nil || set.RoleID == nil || *set.RoleID == "" {
		return fmt.Errorf("%w: change-role without target role", ErrIncompleteActionData)
	}
	roleID := *set.RoleID

	current, err := store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}

	adds, removes := splitPermissions(set.Permissions)
	if err := store.RemovePermissions(ctx, roleID, removes); err != nil {
		return err
	}
	if err := store.AddPermissions(ctx, roleID, adds); err != nil {
		return err
	}

	joins, leaves := splitMembers(set.Members)
	if err := store.AddMembers(ctx, roleID, joins); err != nil {
		return err
	}
	if err := store.RemoveMembers(ctx, roleID, leaves); err != nil {
		return err
	}

	name, color := nonEmpty(set.Name), nonEmpty(set.Color)
	if name == nil && color == nil {
		return nil
	}
	if err := store.UpdateRole(ctx, roleID, name, color); err != nil {
		return err
	}
	audit := map[string]interface{}{}
	if name != nil {
		audit["prev_name"] = current.Name
	}
	if color != nil {
		audit["prev_color"] = current.Color
	}
	if err := tx.Model(&types.PollActionRole{}).Where("id = ?", set.ID).Updates(audit).Error; err != nil {
		return fmt.Errorf("record previous role values: %w", err)
	}
	return nil
}

func createRole(ctx context.Context, store roles.Store, set *types.PollActionRole) error {
	if set == nil {
		return fmt.Errorf("%w: create-role without role data", ErrIncompleteActionData)
	}
	name, color := nonEmpty(set.Name), nonEmpty(set.Color)
	if name == nil || color == nil {
		return fmt.Errorf("%w: create-role needs name and color", ErrIncompleteActionData)
	}

	role := types.Role{Name: *name, Color: *color}
	adds, _ := splitPermissions(set.Permissions)
	for _, r := range adds {
		role.Permissions = append(role.Permissions, types.Permission{Action: r.Action, Subject: r.Subject})
	}
	joins, _ := splitMembers(set.Members)
	for _, id := range joins {
		role.Members = append(role.Members, types.RoleMember{UserID: id})
	}
	return store.CreateRole(ctx, &role)
}

func splitPermissions(perms []types.PollActionPermission) (adds, removes []roles.Rule) {
	seen := map[roles.Rule]bool{}
	for _, p := range perms {
		r := roles.Rule{Action: p.Action, Subject: p.Subject}
		if seen[r] {
			continue
		}
		seen[r] = true
		switch p.ChangeType {
		case types.ChangeAdd:
			adds = append(adds, r)
		case types.ChangeRemove:
			removes = append(removes, r)
		}
	}
	return adds, removes
}

func splitMembers(members []types.PollActionRoleMember) (joins, leaves []string) {
	seen := map[string]bool{}
	for _, m := range members {
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		switch m.ChangeType {
		case types.ChangeAdd:
			joins = append(joins, m.UserID)
		case types.ChangeRemove:
			leaves = append(leaves, m.UserID)
		}
	}
	return joins, leaves
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
