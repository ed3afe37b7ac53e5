package votes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stake-plus/govdecisions/src/channels"
	"github.com/stake-plus/govdecisions/src/metrics"
	"github.com/stake-plus/govdecisions/src/polls"
	"github.com/stake-plus/govdecisions/src/types"
)

// ValidationError is a malformed ballot.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

// Evaluator is the part of polls.Evaluator the service drives.
type Evaluator interface {
	OnBallotChanged(ctx context.Context, pollID string) (bool, error)
	Reconcile(ctx context.Context, pollID string) (types.PollStage, error)
}

// Result is a ballot mutation outcome.
type Result struct {
	Vote            types.Vote `json:"vote"`
	IsRatifyingVote bool       `json:"isRatifyingVote"`
}

// Service gates ballot mutations on the item's stage and the caller's
// membership, then hands the item to the evaluator.
type Service struct {
	ledger    *Ledger
	polls     *polls.Store
	evaluator Evaluator
	members   channels.Membership
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(ledger *Ledger, store *polls.Store, eval Evaluator, members channels.Membership, m *metrics.Metrics) *Service {
	return &Service{ledger: ledger, polls: store, evaluator: eval, members: members, metrics: m, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Cast(ctx context.Context, pollID, userID string, b Ballot) (Result, error) {
	poll, err := s.votable(ctx, pollID, userID)
	if err != nil {
		return Result{}, err
	}
	if err := checkBallot(poll, b); err != nil {
		return Result{}, err
	}
	vote, err := s.ledger.Cast(ctx, pollID, userID, b)
	if err != nil {
		return Result{}, err
	}
	s.metrics.Ballot("cast")
	return Result{Vote: vote, IsRatifyingVote: s.evaluate(ctx, pollID)}, nil
}

func (s *Service) Change(ctx context.Context, pollID, voteID, userID string, b Ballot) (Result, error) {
	poll, err := s.votable(ctx, pollID, userID)
	if err != nil {
		return Result{}, err
	}
	if err := checkBallot(poll, b); err != nil {
		return Result{}, err
	}
	if _, err := s.owned(ctx, pollID, voteID, userID); err != nil {
		return Result{}, err
	}
	vote, changed, err := s.ledger.Change(ctx, voteID, b)
	if err != nil {
		return Result{}, err
	}
	if !changed {
		return Result{Vote: vote}, nil
	}
	s.metrics.Ballot("change")
	return Result{Vote: vote, IsRatifyingVote: s.evaluate(ctx, pollID)}, nil
}

func (s *Service) Retract(ctx context.Context, pollID, voteID, userID string) (Result, error) {
	if _, err := s.votable(ctx, pollID, userID); err != nil {
		return Result{}, err
	}
	if _, err := s.owned(ctx, pollID, voteID, userID); err != nil {
		return Result{}, err
	}
	vote, err := s.ledger.Retract(ctx, voteID)
	if err != nil {
		return Result{}, err
	}
	s.metrics.Ballot("retract")
	return Result{Vote: vote, IsRatifyingVote: s.evaluate(ctx, pollID)}, nil
}

// VotersByOption lists who picked an option. Readers must belong to the
// item's channel.
func (s *Service) VotersByOption(ctx context.Context, pollID, optionID, userID string) ([]types.User, error) {
	poll, err := s.polls.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.member(ctx, poll.ChannelID, userID); err != nil {
		return nil, err
	}
	return s.ledger.VotersByOption(ctx, pollID, optionID)
}

// votable loads the item and rejects callers who may not vote on it now.
// An item past its deadline is settled on the spot instead of waiting for
// the next sweep.
func (s *Service) votable(ctx context.Context, pollID, userID string) (types.Poll, error) {
	poll, err := s.polls.Get(ctx, pollID)
	if err != nil {
		return types.Poll{}, err
	}
	if err := s.member(ctx, poll.ChannelID, userID); err != nil {
		return types.Poll{}, err
	}
	if poll.Stage != types.StageVoting {
		return types.Poll{}, fmt.Errorf("%w: stage is %s", polls.ErrNotVoting, poll.Stage)
	}
	if deadline, ok := polls.Deadline(poll); ok && !s.now().Before(deadline) {
		stage, err := s.evaluator.Reconcile(ctx, pollID)
		if err != nil {
			log.Warn("settling expired poll failed", "poll", pollID, "err", err)
		}
		if stage == "" {
			stage = poll.Stage
		}
		return types.Poll{}, fmt.Errorf("%w: voting closed at %s (stage %s)", polls.ErrNotVoting, deadline.Format(time.RFC3339), stage)
	}
	return poll, nil
}

func (s *Service) member(ctx context.Context, channelID, userID string) error {
	ok, err := s.members.IsMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return polls.ErrNotMember
	}
	return nil
}

func (s *Service) owned(ctx context.Context, pollID, voteID, userID string) (types.Vote, error) {
	vote, err := s.ledger.Get(ctx, voteID)
	if err != nil {
		return types.Vote{}, err
	}
	if vote.PollID != pollID {
		return types.Vote{}, ErrNotFound
	}
	if vote.UserID != userID {
		return types.Vote{}, ErrNotOwner
	}
	return vote, nil
}

// evaluate never fails the mutation: a missed evaluation is picked up by the
// next ballot or the sweep.
func (s *Service) evaluate(ctx context.Context, pollID string) bool {
	ratified, err := s.evaluator.OnBallotChanged(ctx, pollID)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("ballot evaluation failed", "poll", pollID, "err", err)
	}
	return ratified
}

func checkBallot(poll types.Poll, b Ballot) error {
	switch poll.PollType {
	case types.PollTypeProposal:
		if !b.VoteType.Valid() {
			return &ValidationError{Field: "voteType", Message: fmt.Sprintf("invalid vote type %q", b.VoteType)}
		}
		if b.OptionID != "" {
			return &ValidationError{Field: "pollOptionId", Message: "proposals do not have options"}
		}
	case types.PollTypePoll:
		if b.OptionID == "" {
			return &ValidationError{Field: "pollOptionId", Message: "an option is required"}
		}
		if b.VoteType != "" {
			return &ValidationError{Field: "voteType", Message: "polls take an option, not a vote type"}
		}
	}
	return nil
}
