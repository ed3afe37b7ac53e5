package polls

import (
	"context"
	"time"

	"github.com/stake-plus/govdecisions/src/ratification"
	"github.com/stake-plus/govdecisions/src/types"
)

// View is the read model returned to clients.
type View struct {
	types.Poll
	Body           string             `json:"body"`
	Tally          ratification.Tally `json:"tally"`
	OptionCounts   map[string]int     `json:"optionCounts,omitempty"`
	AgreementCount int                `json:"agreementVoteCount"`
	MemberCount    int                `json:"memberCount"`
	Participants   int                `json:"participants"`
	Required       int                `json:"requiredAgreements"`
	Progress       int                `json:"progress"`
	MyVotes        []types.Vote       `json:"myVotes"`
	Closed         bool               `json:"isClosed"`
}

// Project builds a View for viewerID. participants is the eligible count at
// read time.
func (s *Store) Project(ctx context.Context, poll types.Poll, viewerID string, participants int) (View, error) {
	body, err := s.Body(ctx, poll)
	if err != nil {
		return View{}, err
	}
	members, err := s.members.ListMembers(ctx, poll.ChannelID)
	if err != nil {
		return View{}, err
	}

	v := View{
		Poll:         poll,
		Body:         body,
		MemberCount:  len(members),
		Participants: participants,
		MyVotes:      []types.Vote{},
		Closed:       poll.Stage.Terminal(),
	}

	voteTypes := make([]ratification.VoteType, 0, len(poll.Votes))
	for _, vote := range poll.Votes {
		voteTypes = append(voteTypes, vote.VoteType)
		if vote.PollOptionID != "" {
			if v.OptionCounts == nil {
				v.OptionCounts = map[string]int{}
			}
			v.OptionCounts[vote.PollOptionID]++
		}
		if vote.UserID == viewerID {
			v.MyVotes = append(v.MyVotes, vote)
		}
	}
	v.Tally = ratification.Partition(voteTypes)
	v.AgreementCount = v.Tally.Agreements

	if poll.Config != nil {
		v.Required = ratification.RequiredCount(participants, poll.Config.RatificationThreshold)
		v.Progress = ratification.Progress(v.AgreementCount, v.Required)
		if poll.Config.ClosingAt != nil && !s.now().Before(*poll.Config.ClosingAt) {
			v.Closed = true
		}
	}
	return v, nil
}

// Deadline returns the item's closing time, if any.
func Deadline(poll types.Poll) (time.Time, bool) {
	if poll.Config == nil || poll.Config.ClosingAt == nil {
		return time.Time{}, false
	}
	return *poll.Config.ClosingAt, true
}
