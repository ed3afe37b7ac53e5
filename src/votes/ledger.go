// Package votes records ballots and re-evaluates decision items when they
// change.
package votes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stake-plus/govdecisions/src/polls"
	"github.com/stake-plus/govdecisions/src/ratification"
	"github.com/stake-plus/govdecisions/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound       = errors.New("vote not found")
	ErrOptionNotFound = errors.New("poll option not found")
	ErrAlreadyVoted   = errors.New("already voted")
	ErrNotOwner       = errors.New("vote belongs to another participant")
)

// Ballot is a vote type for proposals or an option for polls.
type Ballot struct {
	VoteType ratification.VoteType
	OptionID string
}

// Ledger is the ballot table. Every write re-checks the item's stage under
// the item's row lock, so a ballot never lands on a settled item.
type Ledger struct{ db *gorm.DB }

func NewLedger(db *gorm.DB) *Ledger { return &Ledger{db: db} }

// Cast records a ballot. Proposals take one ballot per participant; polls
// one per participant per option, and only one overall unless the poll is
// multiple choice.
func (l *Ledger) Cast(ctx context.Context, pollID, userID string, b Ballot) (types.Vote, error) {
	vote := types.Vote{PollID: pollID, UserID: userID, VoteType: b.VoteType, PollOptionID: b.OptionID}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := lockVoting(tx, pollID)
		if err != nil {
			return err
		}

		q := tx.Model(&types.Vote{}).Where("poll_id = ? AND user_id = ?", pollID, userID)
		if poll.PollType == types.PollTypePoll {
			if err := optionExists(tx, pollID, b.OptionID); err != nil {
				return err
			}
			if poll.Config != nil && poll.Config.MultipleChoice {
				q = q.Where("poll_option_id = ?", b.OptionID)
			}
		}
		var existing int64
		if err := q.Count(&existing).Error; err != nil {
			return fmt.Errorf("count ballots: %w", err)
		}
		if existing > 0 {
			return ErrAlreadyVoted
		}

		if err := tx.Create(&vote).Error; err != nil {
			if isDuplicate(err) {
				return ErrAlreadyVoted
			}
			return fmt.Errorf("create vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Vote{}, err
	}
	return vote, nil
}

// Change replaces a ballot's value. It reports changed=false when the new
// value equals the old one.
func (l *Ledger) Change(ctx context.Context, voteID string, b Ballot) (types.Vote, bool, error) {
	var (
		vote    types.Vote
		changed bool
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&vote, "id = ?", voteID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load vote: %w", err)
		}
		if _, err := lockVoting(tx, vote.PollID); err != nil {
			return err
		}
		if vote.VoteType == b.VoteType && vote.PollOptionID == b.OptionID {
			return nil
		}
		if b.OptionID != "" && b.OptionID != vote.PollOptionID {
			if err := optionExists(tx, vote.PollID, b.OptionID); err != nil {
				return err
			}
		}
		res := tx.Model(&vote).Updates(map[string]interface{}{
			"vote_type":      b.VoteType,
			"poll_option_id": b.OptionID,
		})
		if res.Error != nil {
			if isDuplicate(res.Error) {
				return ErrAlreadyVoted
			}
			return fmt.Errorf("update vote: %w", res.Error)
		}
		vote.VoteType, vote.PollOptionID = b.VoteType, b.OptionID
		changed = true
		return nil
	})
	if err != nil {
		return types.Vote{}, false, err
	}
	return vote, changed, nil
}

// Retract deletes a ballot and returns what was removed. Ballots on items
// that left the voting stage are kept.
func (l *Ledger) Retract(ctx context.Context, voteID string) (types.Vote, error) {
	var vote types.Vote
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&vote, "id = ?", voteID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load vote: %w", err)
		}
		if _, err := lockVoting(tx, vote.PollID); err != nil {
			return err
		}
		voting := tx.Model(&types.Poll{}).Select("id").Where("stage = ?", types.StageVoting)
		res := tx.Where("id = ? AND poll_id IN (?)", voteID, voting).Delete(&types.Vote{})
		if res.Error != nil {
			return fmt.Errorf("delete vote: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return polls.ErrNotVoting
		}
		return nil
	})
	if err != nil {
		return types.Vote{}, err
	}
	return vote, nil
}

func (l *Ledger) Get(ctx context.Context, voteID string) (types.Vote, error) {
	var vote types.Vote
	err := l.db.WithContext(ctx).First(&vote, "id = ?", voteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Vote{}, ErrNotFound
	}
	if err != nil {
		return types.Vote{}, fmt.Errorf("get vote: %w", err)
	}
	return vote, nil
}

func (l *Ledger) List(ctx context.Context, pollID string) ([]types.Vote, error) {
	var out []types.Vote
	err := l.db.WithContext(ctx).Where("poll_id = ?", pollID).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return out, nil
}

// VotersByOption returns the users who picked optionID on pollID.
func (l *Ledger) VotersByOption(ctx context.Context, pollID, optionID string) ([]types.User, error) {
	if err := optionExists(l.db.WithContext(ctx), pollID, optionID); err != nil {
		return nil, err
	}
	var users []types.User
	err := l.db.WithContext(ctx).
		Model(&types.User{}).
		Joins("JOIN votes ON votes.user_id = users.id").
		Where("votes.poll_id = ? AND votes.poll_option_id = ?", pollID, optionID).
		Order("votes.created_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("list voters: %w", err)
	}
	return users, nil
}

// lockVoting loads the item for the rest of tx and fails unless it is
// voting. On MySQL the row stays locked until tx ends, which serializes
// ballots per item against each other and against stage swaps. SQLite
// already serializes writers.
func lockVoting(tx *gorm.DB, pollID string) (types.Poll, error) {
	q := tx.Preload("Config")
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var poll types.Poll
	if err := q.First(&poll, "id = ?", pollID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Poll{}, polls.ErrNotFound
		}
		return types.Poll{}, fmt.Errorf("load poll: %w", err)
	}
	if poll.Stage != types.StageVoting {
		return types.Poll{}, fmt.Errorf("%w: stage is %s", polls.ErrNotVoting, poll.Stage)
	}
	return poll, nil
}

func optionExists(db *gorm.DB, pollID, optionID string) error {
	if optionID == "" {
		return ErrOptionNotFound
	}
	var n int64
	if err := db.Model(&types.PollOption{}).Where("id = ? AND poll_id = ?", optionID, pollID).Count(&n).Error; err != nil {
		return fmt.Errorf("check option: %w", err)
	}
	if n == 0 {
		return ErrOptionNotFound
	}
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
