package polls

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stake-plus/govdecisions/src/metrics"
	"github.com/stake-plus/govdecisions/src/participants"
	"github.com/stake-plus/govdecisions/src/ratification"
	"github.com/stake-plus/govdecisions/src/types"
)

// ActionRunner executes an item's governance action after it is ratified.
type ActionRunner interface {
	Execute(ctx context.Context, pollID string) error
}

// Evaluator turns calculator verdicts into stage transitions. Ballot changes
// and the sweep both call into it; only the caller that wins the stage swap
// runs the action.
type Evaluator struct {
	store        *Store
	participants participants.Source
	actions      ActionRunner
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewEvaluator(store *Store, src participants.Source, actions ActionRunner, m *metrics.Metrics) *Evaluator {
	return &Evaluator{
		store:        store,
		participants: src,
		actions:      actions,
		metrics:      m,
		now:          time.Now,
	}
}

func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// OnBallotChanged re-evaluates an item after a ballot mutation and reports
// whether this call ratified it.
func (e *Evaluator) OnBallotChanged(ctx context.Context, pollID string) (bool, error) {
	poll, err := e.store.Get(ctx, pollID)
	if err != nil {
		return false, err
	}
	if poll.Stage != types.StageVoting || poll.PollType != types.PollTypeProposal {
		return false, nil
	}
	ok, err := e.ratifiable(ctx, poll)
	if err != nil || !ok {
		return false, err
	}
	return e.ratify(ctx, poll, "ballot")
}

// Reconcile settles an item whose deadline has passed: ratify it if the
// rules allow, otherwise close it. It returns the stage this call moved the
// item to, or the current stage when there was nothing to do.
func (e *Evaluator) Reconcile(ctx context.Context, pollID string) (types.PollStage, error) {
	poll, err := e.store.Get(ctx, pollID)
	if err != nil {
		return "", err
	}
	if poll.Stage != types.StageVoting {
		return poll.Stage, nil
	}
	if deadline, ok := Deadline(poll); !ok || e.now().Before(deadline) {
		return poll.Stage, nil
	}

	if poll.PollType == types.PollTypeProposal {
		ok, err := e.ratifiable(ctx, poll)
		if err != nil {
			return "", err
		}
		if ok {
			won, err := e.ratify(ctx, poll, "sweep")
			if err != nil {
				return "", err
			}
			if !won {
				return e.currentStage(ctx, poll.ID)
			}
			return types.StageRatified, nil
		}
	}

	won, err := e.store.TransitionStage(ctx, poll.ID, types.StageVoting, types.StageClosed)
	if err != nil {
		return "", err
	}
	if !won {
		return e.currentStage(ctx, poll.ID)
	}
	e.metrics.Transition(string(types.StageClosed), "sweep")
	log.Info("poll closed", "poll", poll.ID, "model", poll.Config.DecisionMakingModel)
	return types.StageClosed, nil
}

// currentStage re-reads the stage after another caller won a swap.
func (e *Evaluator) currentStage(ctx context.Context, pollID string) (types.PollStage, error) {
	poll, err := e.store.Get(ctx, pollID)
	if err != nil {
		return "", err
	}
	return poll.Stage, nil
}

func (e *Evaluator) ratifiable(ctx context.Context, poll types.Poll) (bool, error) {
	if poll.Config == nil {
		return false, fmt.Errorf("poll %s has no config", poll.ID)
	}
	count, err := e.participants.CountEligible(ctx)
	if err != nil {
		return false, err
	}
	votes := make([]ratification.VoteType, 0, len(poll.Votes))
	for _, v := range poll.Votes {
		votes = append(votes, v.VoteType)
	}
	return ratification.IsRatifiable(votes, poll.Config.Rules(), count, e.now()), nil
}

// ratify swaps voting -> ratified and, if this call won, runs the action.
// Action failures are logged and counted by the runner and leave the item
// ratified.
func (e *Evaluator) ratify(ctx context.Context, poll types.Poll, trigger string) (bool, error) {
	won, err := e.store.TransitionStage(ctx, poll.ID, types.StageVoting, types.StageRatified)
	if err != nil || !won {
		return false, err
	}
	e.metrics.Transition(string(types.StageRatified), trigger)
	log.Info("poll ratified", "poll", poll.ID, "model", poll.Config.DecisionMakingModel, "trigger", trigger)

	// The swap is won; the action must not die with the caller's request.
	if poll.Action != nil && e.actions != nil {
		if err := e.actions.Execute(context.WithoutCancel(ctx), poll.ID); err != nil {
			log.Warn("poll ratified but its action did not run", "poll", poll.ID, "err", err)
		}
	}

	poll.Stage = types.StageRatified
	e.store.notifier.PollRatified(ctx, poll)
	return true, nil
}
