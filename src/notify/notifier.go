package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/stake-plus/govdecisions/src/channels"
	"github.com/stake-plus/govdecisions/src/logging"
	"github.com/stake-plus/govdecisions/src/metrics"
	"github.com/stake-plus/govdecisions/src/types"
)

const (
	MessageTypePoll         = "poll"
	MessageTypePollRatified = "poll-ratified"
)

func NewPollTopic(channelID, userID string) string {
	return fmt.Sprintf("new-poll-%s-%s", channelID, userID)
}

func PollRatifiedTopic(channelID, userID string) string {
	return fmt.Sprintf("poll-ratified-%s-%s", channelID, userID)
}

type pollMessage struct {
	Type string    `json:"type"`
	Poll pollShape `json:"poll"`
}

type pollShape struct {
	ID        string             `json:"id"`
	ChannelID string             `json:"channelId"`
	UserID    string             `json:"userId"`
	Body      string             `json:"body"`
	Stage     types.PollStage    `json:"stage"`
	PollType  types.PollType     `json:"pollType"`
	Config    *types.PollConfig  `json:"config,omitempty"`
	Action    *types.PollAction  `json:"action,omitempty"`
	Options   []types.PollOption `json:"options,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

type ratifiedMessage struct {
	Type      string          `json:"type"`
	PollID    string          `json:"pollId"`
	ChannelID string          `json:"channelId"`
	Stage     types.PollStage `json:"stage"`
}

// Notifier fans events out to every channel member in the background.
// Failures are retried with exponential backoff, then logged and dropped.
type Notifier struct {
	pub        Publisher
	members    channels.Membership
	metrics    *metrics.Metrics
	maxElapsed time.Duration
	wg         sync.WaitGroup
}

func NewNotifier(pub Publisher, members channels.Membership, m *metrics.Metrics, maxElapsed time.Duration) *Notifier {
	if maxElapsed <= 0 {
		maxElapsed = 10 * time.Second
	}
	return &Notifier{pub: pub, members: members, metrics: m, maxElapsed: maxElapsed}
}

// PollCreated tells every member except the author about a new item.
func (n *Notifier) PollCreated(ctx context.Context, poll types.Poll, body string) {
	payload, err := json.Marshal(pollMessage{
		Type: MessageTypePoll,
		Poll: pollShape{
			ID:        poll.ID,
			ChannelID: poll.ChannelID,
			UserID:    poll.UserID,
			Body:      body,
			Stage:     poll.Stage,
			PollType:  poll.PollType,
			Config:    poll.Config,
			Action:    poll.Action,
			Options:   poll.Options,
			CreatedAt: poll.CreatedAt,
		},
	})
	if err != nil {
		log.Error("encode poll message", "poll", poll.ID, "err", err)
		return
	}
	n.fanOut(ctx, poll.ChannelID, poll.UserID, payload, NewPollTopic)
}

// PollRatified tells every member, author included, that an item passed.
func (n *Notifier) PollRatified(ctx context.Context, poll types.Poll) {
	payload, err := json.Marshal(ratifiedMessage{
		Type:      MessageTypePollRatified,
		PollID:    poll.ID,
		ChannelID: poll.ChannelID,
		Stage:     poll.Stage,
	})
	if err != nil {
		log.Error("encode ratified message", "poll", poll.ID, "err", err)
		return
	}
	n.fanOut(ctx, poll.ChannelID, "", payload, PollRatifiedTopic)
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) fanOut(ctx context.Context, channelID, skipUserID string, payload []byte, topic func(channelID, userID string) string) {
	members, err := n.members.ListMembers(ctx, channelID)
	if err != nil {
		log.Warn("fan-out skipped: cannot list members", "channel", channelID, "err", err)
		n.metrics.FanOutFailure()
		return
	}

	bg := context.WithoutCancel(ctx)
	for _, userID := range members {
		if userID == skipUserID {
			continue
		}
		t := topic(channelID, userID)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.deliver(bg, t, payload); err != nil {
				n.metrics.FanOutFailure()
				log.Warn("fan-out dropped", "topic", t, "err", err)
			}
		}()
	}
}

func (n *Notifier) deliver(ctx context.Context, topic string, payload []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = n.maxElapsed

	op := func() error {
		err := n.pub.Publish(ctx, topic, payload)
		if err != nil && !logging.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
