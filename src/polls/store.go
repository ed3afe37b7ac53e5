// Package polls stores decision items and decides when they leave the
// voting stage.
package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/stake-plus/govdecisions/src/channels"
	"github.com/stake-plus/govdecisions/src/crypto"
	"github.com/stake-plus/govdecisions/src/data"
	"github.com/stake-plus/govdecisions/src/ratification"
	"github.com/stake-plus/govdecisions/src/roles"
	"github.com/stake-plus/govdecisions/src/types"
	"gorm.io/gorm"
)

// Notifier hears about new and ratified items. Implementations must not
// block on slow subscribers for long and never fail the caller.
type Notifier interface {
	PollCreated(ctx context.Context, poll types.Poll, body string)
	PollRatified(ctx context.Context, poll types.Poll)
}

type nopNotifier struct{}

func (nopNotifier) PollCreated(context.Context, types.Poll, string) {}
func (nopNotifier) PollRatified(context.Context, types.Poll)        {}

type Store struct {
	db        *gorm.DB
	sealer    crypto.Sealer
	members   channels.Membership
	notifier  Notifier
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

func NewStore(db *gorm.DB, sealer crypto.Sealer, members channels.Membership) *Store {
	return &Store{
		db:        db,
		sealer:    sealer,
		members:   members,
		notifier:  nopNotifier{},
		sanitizer: newSanitizer(),
		now:       time.Now,
	}
}

func (s *Store) WithNotifier(n Notifier) *Store {
	if n != nil {
		s.notifier = n
	}
	return s
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Create validates, snapshots the server config, seals the body and stores
// the item with its config, options and action in one transaction.
func (s *Store) Create(ctx context.Context, in CreateInput) (types.Poll, error) {
	now := s.now()
	body, err := validate(in, s.sanitizer, now)
	if err != nil {
		return types.Poll{}, err
	}

	ok, err := s.members.IsMember(ctx, in.ChannelID, in.UserID)
	if err != nil {
		return types.Poll{}, err
	}
	if !ok {
		return types.Poll{}, ErrNotMember
	}

	poll := types.Poll{
		ChannelID: in.ChannelID,
		UserID:    in.UserID,
		Stage:     types.StageVoting,
		PollType:  in.PollType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if body != "" {
		sealed, err := s.sealer.Seal(ctx, in.ChannelID, body)
		if err != nil {
			return types.Poll{}, fmt.Errorf("seal body: %w", err)
		}
		poll.Ciphertext, poll.IV, poll.Tag = sealed.Ciphertext, sealed.IV, sealed.Tag
		poll.KeyID = &sealed.KeyID
	}
	for i, text := range in.Options {
		poll.Options = append(poll.Options, types.PollOption{Text: strings.TrimSpace(text), Position: i})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sc, err := data.LoadServerConfig(tx)
		if err != nil {
			return err
		}
		cfg, err := snapshot(sc, in, now)
		if err != nil {
			return err
		}
		poll.Config = &cfg

		if in.Action != nil {
			action, err := buildAction(ctx, tx, *in.Action)
			if err != nil {
				return err
			}
			poll.Action = &action
		}
		if err := tx.Create(&poll).Error; err != nil {
			return fmt.Errorf("create poll: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Poll{}, err
	}

	s.notifier.PollCreated(ctx, poll, body)
	return poll, nil
}

// snapshot freezes the instance defaults onto a new item.
func snapshot(sc types.ServerConfig, in CreateInput, now time.Time) (types.PollConfig, error) {
	cfg := types.PollConfig{
		DecisionMakingModel:   sc.DecisionMakingModel,
		RatificationThreshold: sc.RatificationThreshold,
		DisagreementsLimit:    sc.DisagreementsLimit,
		AbstainsLimit:         sc.AbstainsLimit,
		QuorumEnabled:         sc.QuorumEnabled,
		QuorumThreshold:       sc.QuorumThreshold,
		MultipleChoice:        in.MultipleChoice,
		ClosingAt:             in.ClosingAt,
	}
	if cfg.ClosingAt == nil && sc.VotingTimeLimit > 0 {
		closing := now.Add(time.Duration(sc.VotingTimeLimit) * time.Minute)
		cfg.ClosingAt = &closing
	}
	if cfg.ClosingAt != nil {
		utc := cfg.ClosingAt.UTC()
		cfg.ClosingAt = &utc
	}
	if in.PollType == types.PollTypeProposal && cfg.DecisionMakingModel == ratification.ModelConsent && cfg.ClosingAt == nil {
		return types.PollConfig{}, invalid("closingAt", "consent proposals need a deadline")
	}
	return cfg, nil
}

func buildAction(ctx context.Context, tx *gorm.DB, in ActionInput) (types.PollAction, error) {
	set := &types.PollActionRole{Name: trimmed(in.Name), Color: trimmed(in.Color)}

	if in.ActionType == types.ActionChangeRole {
		role, err := roles.NewStore(tx).GetRole(ctx, strings.TrimSpace(*in.RoleID))
		if errors.Is(err, roles.ErrNotFound) {
			return types.PollAction{}, invalid("action.roleId", "role %s does not exist", *in.RoleID)
		}
		if err != nil {
			return types.PollAction{}, err
		}
		set.RoleID = &role.ID
		if set.Name != nil {
			set.PrevName = &role.Name
		}
		if set.Color != nil {
			set.PrevColor = &role.Color
		}
	}

	if len(in.Members) > 0 {
		ids := make([]string, 0, len(in.Members))
		for _, m := range in.Members {
			ids = append(ids, m.UserID)
		}
		var found int64
		if err := tx.WithContext(ctx).Model(&types.User{}).Where("id IN ?", ids).Distinct("id").Count(&found).Error; err != nil {
			return types.PollAction{}, fmt.Errorf("check members: %w", err)
		}
		if int(found) != len(uniq(ids)) {
			return types.PollAction{}, invalid("action.members", "unknown user")
		}
	}

	for _, p := range in.Permissions {
		set.Permissions = append(set.Permissions, types.PollActionPermission{
			Action: p.Action, Subject: p.Subject, ChangeType: p.ChangeType,
		})
	}
	for _, m := range in.Members {
		set.Members = append(set.Members, types.PollActionRoleMember{UserID: m.UserID, ChangeType: m.ChangeType})
	}
	return types.PollAction{ActionType: in.ActionType, Role: set}, nil
}

// Get loads an item with everything the evaluator and the read model need.
func (s *Store) Get(ctx context.Context, id string) (types.Poll, error) {
	return s.get(ctx, s.db, id)
}

func (s *Store) get(ctx context.Context, db *gorm.DB, id string) (types.Poll, error) {
	var poll types.Poll
	err := db.WithContext(ctx).
		Preload("Config").
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Votes").
		Preload("Action.Role.Permissions").
		Preload("Action.Role.Members").
		First(&poll, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Poll{}, ErrNotFound
	}
	if err != nil {
		return types.Poll{}, fmt.Errorf("get poll: %w", err)
	}
	return poll, nil
}

// List returns a channel's items newest first.
func (s *Store) List(ctx context.Context, channelID string, offset, limit int) ([]types.Poll, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var polls []types.Poll
	err := s.db.WithContext(ctx).
		Preload("Config").
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Votes").
		Preload("Action.Role.Permissions").
		Preload("Action.Role.Members").
		Where("channel_id = ?", channelID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&polls).Error
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	return polls, nil
}

// ListExpiring returns the IDs of voting items whose deadline is at or
// before now.
func (s *Store) ListExpiring(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&types.Poll{}).
		Joins("JOIN poll_configs ON poll_configs.poll_id = polls.id").
		Where("polls.stage = ? AND poll_configs.closing_at IS NOT NULL AND poll_configs.closing_at <= ?", types.StageVoting, now.UTC()).
		Order("poll_configs.closing_at ASC").
		Pluck("polls.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list expiring polls: %w", err)
	}
	return ids, nil
}

// TransitionStage moves an item from one stage to another only if it is
// still in the expected stage. It reports whether this call made the move.
func (s *Store) TransitionStage(ctx context.Context, id string, from, to types.PollStage) (bool, error) {
	if from != types.StageVoting || !to.Terminal() {
		return false, fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	res := s.db.WithContext(ctx).
		Model(&types.Poll{}).
		Where("id = ? AND stage = ?", id, from).
		Updates(map[string]interface{}{"stage": to, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("transition poll %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Body decrypts an item's body. Items without a body yield "".
func (s *Store) Body(ctx context.Context, poll types.Poll) (string, error) {
	if poll.KeyID == nil || len(poll.Ciphertext) == 0 {
		return "", nil
	}
	return s.sealer.Open(ctx, crypto.Sealed{
		Ciphertext: poll.Ciphertext,
		IV:         poll.IV,
		Tag:        poll.Tag,
		KeyID:      *poll.KeyID,
	})
}

func trimmed(s *string) *string {
	if blank(s) {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
