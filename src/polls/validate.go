package polls

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/stake-plus/govdecisions/src/types"
)

const (
	MaxBodyLength   = 6000
	MaxOptions      = 20
	MaxOptionLength = 256
)

// CreateInput is a new decision item as submitted by its author.
type CreateInput struct {
	ChannelID      string
	UserID         string
	Body           string
	PollType       types.PollType
	Options        []string
	MultipleChoice bool
	ClosingAt      *time.Time
	Action         *ActionInput
}

type ActionInput struct {
	ActionType  types.PollActionType
	RoleID      *string
	Name        *string
	Color       *string
	Permissions []PermissionChange
	Members     []MemberChange
}

type PermissionChange struct {
	Action     types.AbilityAction
	Subject    types.AbilitySubject
	ChangeType types.ChangeType
}

type MemberChange struct {
	UserID     string
	ChangeType types.ChangeType
}

func newSanitizer() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AllowElements("p", "br", "strong", "em", "code", "pre", "blockquote")
	p.AllowElements("ul", "ol", "li")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowAttrs("href").OnElements("a")
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoFollowOnLinks(true)
	return p
}

// validate checks everything that does not need the database and returns
// the sanitized body.
func validate(in CreateInput, sanitizer *bluemonday.Policy, now time.Time) (string, error) {
	body := strings.TrimSpace(sanitizer.Sanitize(in.Body))
	if n := utf8.RuneCountInString(body); n > MaxBodyLength {
		return "", invalid("body", "must be %d characters or less, got %d", MaxBodyLength, n)
	}
	if in.ClosingAt != nil && !in.ClosingAt.After(now) {
		return "", invalid("closingAt", "must be in the future")
	}

	switch in.PollType {
	case types.PollTypePoll:
		if body == "" {
			return "", invalid("body", "a poll needs a question")
		}
		if in.Action != nil {
			return "", invalid("action", "only proposals carry actions")
		}
		if err := validateOptions(in.Options); err != nil {
			return "", err
		}
	case types.PollTypeProposal:
		if len(in.Options) > 0 {
			return "", invalid("options", "proposals do not have options")
		}
		if in.MultipleChoice {
			return "", invalid("multipleChoice", "proposals are single ballot")
		}
		if body == "" && in.Action == nil {
			return "", invalid("body", "a proposal needs a body or an action")
		}
		if in.Action != nil {
			if err := validateAction(*in.Action); err != nil {
				return "", err
			}
		}
	default:
		return "", invalid("pollType", "unknown poll type %q", in.PollType)
	}
	return body, nil
}

func validateOptions(opts []string) error {
	if len(opts) < 2 {
		return invalid("options", "a poll needs at least 2 options")
	}
	if len(opts) > MaxOptions {
		return invalid("options", "at most %d options", MaxOptions)
	}
	seen := make(map[string]bool, len(opts))
	for i, o := range opts {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
			return invalid("options", "option %d is empty", i)
		case utf8.RuneCountInString(o) > MaxOptionLength:
			return invalid("options", "option %d is longer than %d characters", i, MaxOptionLength)
		case seen[strings.ToLower(o)]:
			return invalid("options", "duplicate option %q", o)
		}
		seen[strings.ToLower(o)] = true
	}
	return nil
}

func validateAction(a ActionInput) error {
	for i, p := range a.Permissions {
		switch {
		case !types.ValidAbilityAction(p.Action):
			return invalid("action.permissions", "entry %d: unknown action %q", i, p.Action)
		case !types.ValidAbilitySubject(p.Subject):
			return invalid("action.permissions", "entry %d: unknown subject %q", i, p.Subject)
		case !types.ValidChangeType(p.ChangeType):
			return invalid("action.permissions", "entry %d: unknown change type %q", i, p.ChangeType)
		}
	}
	for i, m := range a.Members {
		switch {
		case strings.TrimSpace(m.UserID) == "":
			return invalid("action.members", "entry %d: missing user", i)
		case !types.ValidChangeType(m.ChangeType):
			return invalid("action.members", "entry %d: unknown change type %q", i, m.ChangeType)
		}
	}

	switch a.ActionType {
	case types.ActionChangeRole:
		if blank(a.RoleID) {
			return invalid("action.roleId", "a role change must target a role")
		}
		if blank(a.Name) && blank(a.Color) && len(a.Permissions) == 0 && len(a.Members) == 0 {
			return invalid("action", "a role change must include at least 1 change")
		}
	case types.ActionCreateRole:
		if !blank(a.RoleID) {
			return invalid("action.roleId", "a new role cannot target an existing one")
		}
		if blank(a.Name) || blank(a.Color) {
			return invalid("action", "a new role needs a name and a color")
		}
		for i, p := range a.Permissions {
			if p.ChangeType != types.ChangeAdd {
				return invalid("action.permissions", "entry %d: a new role can only add permissions", i)
			}
		}
		for i, m := range a.Members {
			if m.ChangeType != types.ChangeAdd {
				return invalid("action.members", "entry %d: a new role can only add members", i)
			}
		}
	default:
		return invalid("action.actionType", "unknown action type %q", a.ActionType)
	}
	return nil
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
