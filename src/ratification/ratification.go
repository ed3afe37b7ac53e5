// Package ratification decides whether a decision item is ready to be ratified.
//
// Everything here is pure: callers pass the ballots, the frozen rules, the
// eligible participant count and the evaluation instant, and get a boolean back.
// Stage transitions are the caller's job.
package ratification

import "time"

// Model is the decision-making model frozen onto an item at creation.
type Model string

const (
	ModelConsensus    Model = "consensus"
	ModelConsent      Model = "consent"
	ModelMajorityVote Model = "majority-vote"
)

// Valid reports whether m is one of the supported models.
func (m Model) Valid() bool {
	switch m {
	case ModelConsensus, ModelConsent, ModelMajorityVote:
		return true
	}
	return false
}

// VoteType is the ballot value for structured proposals.
type VoteType string

const (
	VoteAgree    VoteType = "agree"
	VoteDisagree VoteType = "disagree"
	VoteAbstain  VoteType = "abstain"
	VoteBlock    VoteType = "block"
)

// Valid reports whether v is a known vote type.
func (v VoteType) Valid() bool {
	switch v {
	case VoteAgree, VoteDisagree, VoteAbstain, VoteBlock:
		return true
	}
	return false
}

// Rules is the subset of an item's configuration the calculator consults.
// Quorum is display-only and not part of it.
type Rules struct {
	Model              Model
	ThresholdPct       int
	DisagreementsLimit int
	AbstainsLimit      int
	ClosingAt          *time.Time
}

// Tally holds ballot counts per bucket.
type Tally struct {
	Agreements    int `json:"agreements"`
	Disagreements int `json:"disagreements"`
	Abstains      int `json:"abstains"`
	Blocks        int `json:"blocks"`
}

// Total is the number of ballots that landed in any bucket.
func (t Tally) Total() int {
	return t.Agreements + t.Disagreements + t.Abstains + t.Blocks
}

// Partition sorts vote types into the consensus buckets. Unknown or empty
// values (option ballots on simple polls) are ignored.
func Partition(votes []VoteType) Tally {
	var t Tally
	for _, v := range votes {
		switch v {
		case VoteAgree:
			t.Agreements++
		case VoteDisagree:
			t.Disagreements++
		case VoteAbstain:
			t.Abstains++
		case VoteBlock:
			t.Blocks++
		}
	}
	return t
}

// PartitionMajority keeps only the agreement and disagreement buckets.
func PartitionMajority(votes []VoteType) Tally {
	t := Partition(votes)
	return Tally{Agreements: t.Agreements, Disagreements: t.Disagreements}
}

// RequiredCount returns ceil(participants * pct / 100) using integer math.
func RequiredCount(participants, pct int) int {
	if participants <= 0 || pct <= 0 {
		return 0
	}
	if pct > 100 {
		pct = 100
	}
	return (participants*pct + 99) / 100
}

// requiredAgreements never drops below one: an item cannot be ratified by
// nobody agreeing, even when the instance has no eligible participants.
func requiredAgreements(participants, pct int) int {
	if n := RequiredCount(participants, pct); n > 0 {
		return n
	}
	return 1
}

// deadlineOpen reports whether a deadline gates ratification at now.
// A nil deadline never gates.
func deadlineOpen(closingAt *time.Time, now time.Time) bool {
	return closingAt != nil && now.Before(*closingAt)
}

// deadlineElapsed reports whether a deadline is present and reached.
func deadlineElapsed(closingAt *time.Time, now time.Time) bool {
	return closingAt != nil && !now.Before(*closingAt)
}

func withinLimits(t Tally, r Rules) bool {
	return t.Disagreements <= r.DisagreementsLimit &&
		t.Abstains <= r.AbstainsLimit &&
		t.Blocks == 0
}

// HasConsensus requires the agreement threshold within the limits, with no
// open deadline.
func HasConsensus(t Tally, r Rules, participants int, now time.Time) bool {
	if deadlineOpen(r.ClosingAt, now) {
		return false
	}
	return t.Agreements >= requiredAgreements(participants, r.ThresholdPct) && withinLimits(t, r)
}

// HasConsent: silence is consent once the deadline has passed, as long as
// the limits hold and nobody blocked.
func HasConsent(t Tally, r Rules, now time.Time) bool {
	return deadlineElapsed(r.ClosingAt, now) && withinLimits(t, r)
}

// HasMajorityVote only looks at agreements against the threshold.
func HasMajorityVote(t Tally, r Rules, participants int, now time.Time) bool {
	if deadlineOpen(r.ClosingAt, now) {
		return false
	}
	return t.Agreements >= requiredAgreements(participants, r.ThresholdPct)
}

// IsRatifiable dispatches to the model's rule. It is total: unknown models
// are never ratifiable.
func IsRatifiable(votes []VoteType, r Rules, participants int, now time.Time) bool {
	switch r.Model {
	case ModelConsensus:
		return HasConsensus(Partition(votes), r, participants, now)
	case ModelConsent:
		return HasConsent(Partition(votes), r, now)
	case ModelMajorityVote:
		return HasMajorityVote(PartitionMajority(votes), r, participants, now)
	default:
		return false
	}
}

// Progress returns how far current is toward required, as a 0..100 percentage.
func Progress(current, required int) int {
	if required <= 0 {
		return 100
	}
	p := (current*100 + required/2) / required
	if p > 100 {
		return 100
	}
	return p
}
