package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/stake-plus/govdecisions/src/ratification"
	"gorm.io/gorm"
)

type PollType string

const (
	PollTypeProposal PollType = "proposal"
	PollTypePoll     PollType = "poll"
)

type PollStage string

const (
	StageVoting   PollStage = "voting"
	StageRatified PollStage = "ratified"
	StageClosed   PollStage = "closed"
	// StageRevision is reserved and never assigned.
	StageRevision PollStage = "revision"
)

// Terminal reports whether no further transition is allowed from s.
func (s PollStage) Terminal() bool {
	return s == StageRatified || s == StageClosed
}

type PollActionType string

const (
	ActionChangeRole PollActionType = "change-role"
	ActionCreateRole PollActionType = "create-role"
)

type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeRemove ChangeType = "remove"
)

type AbilityAction string

const (
	AbilityCreate AbilityAction = "create"
	AbilityRead   AbilityAction = "read"
	AbilityUpdate AbilityAction = "update"
	AbilityDelete AbilityAction = "delete"
	AbilityManage AbilityAction = "manage"
)

type AbilitySubject string

const (
	SubjectServerConfig AbilitySubject = "ServerConfig"
	SubjectChannel      AbilitySubject = "Channel"
	SubjectInvite       AbilitySubject = "Invite"
	SubjectMessage      AbilitySubject = "Message"
	SubjectRole         AbilitySubject = "Role"
	SubjectAll          AbilitySubject = "all"
)

func ValidChangeType(c ChangeType) bool { return c == ChangeAdd || c == ChangeRemove }

func ValidAbilityAction(a AbilityAction) bool {
	switch a {
	case AbilityCreate, AbilityRead, AbilityUpdate, AbilityDelete, AbilityManage:
		return true
	}
	return false
}

func ValidAbilitySubject(s AbilitySubject) bool {
	switch s {
	case SubjectServerConfig, SubjectChannel, SubjectInvite, SubjectMessage, SubjectRole, SubjectAll:
		return true
	}
	return false
}

// Users
type User struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:64;uniqueIndex;not null" json:"name"`
	DisplayName string    `gorm:"size:128" json:"displayName,omitempty"`
	Anonymous   bool      `gorm:"not null" json:"-"`
	Locked      bool      `gorm:"not null" json:"-"`
	IsAdmin     bool      `gorm:"not null" json:"-"`
	CreatedAt   time.Time `json:"-"`
}

// Channels
type Channel struct {
	ID        string          `gorm:"primaryKey;size:36"`
	Name      string          `gorm:"size:64;not null"`
	Members   []ChannelMember `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
}

type ChannelMember struct {
	ID        string `gorm:"primaryKey;size:36"`
	ChannelID string `gorm:"size:36;not null;uniqueIndex:idx_channel_member,priority:1"`
	UserID    string `gorm:"size:36;not null;uniqueIndex:idx_channel_member,priority:2"`
	CreatedAt time.Time
}

// Symmetric channel key, stored wrapped with the instance master key.
type ChannelKey struct {
	ID         string `gorm:"primaryKey;size:36"`
	ChannelID  string `gorm:"size:36;index;not null"`
	WrappedKey []byte `gorm:"not null"`
	Nonce      []byte `gorm:"not null"`
	CreatedAt  time.Time
}

// Instance-wide decision defaults. Exactly one row, ID 1.
type ServerConfig struct {
	ID                    uint               `gorm:"primaryKey" json:"-"`
	DecisionMakingModel   ratification.Model `gorm:"size:16;not null" json:"decisionMakingModel"`
	DisagreementsLimit    int                `gorm:"not null" json:"disagreementsLimit"`
	AbstainsLimit         int                `gorm:"not null" json:"abstainsLimit"`
	RatificationThreshold int                `gorm:"not null" json:"ratificationThreshold"`
	QuorumEnabled         bool               `gorm:"not null" json:"quorumEnabled"`
	QuorumThreshold       int                `gorm:"not null" json:"quorumThreshold"`
	VotingTimeLimit       int                `gorm:"not null" json:"votingTimeLimit"` // minutes, 0 = unlimited
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// DefaultServerConfig mirrors the defaults a fresh instance starts with.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ID:                    1,
		DecisionMakingModel:   ratification.ModelConsensus,
		DisagreementsLimit:    2,
		AbstainsLimit:         2,
		RatificationThreshold: 51,
		QuorumEnabled:         true,
		QuorumThreshold:       25,
		VotingTimeLimit:       0,
	}
}

// Decision items
type Poll struct {
	ID         string       `gorm:"primaryKey;size:36" json:"id"`
	ChannelID  string       `gorm:"size:36;index;not null" json:"channelId"`
	UserID     string       `gorm:"size:36;not null" json:"userId"`
	Ciphertext []byte       `json:"-"`
	IV         []byte       `json:"-"`
	Tag        []byte       `json:"-"`
	KeyID      *string      `gorm:"size:36" json:"-"`
	Stage      PollStage    `gorm:"size:16;index;not null" json:"stage"`
	PollType   PollType     `gorm:"size:16;not null" json:"pollType"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	Config     *PollConfig  `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"config,omitempty"`
	Action     *PollAction  `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"action,omitempty"`
	Options    []PollOption `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"options,omitempty"`
	Votes      []Vote       `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
}

// Frozen decision configuration, captured from ServerConfig at creation.
type PollConfig struct {
	ID                    string             `gorm:"primaryKey;size:36" json:"-"`
	PollID                string             `gorm:"size:36;uniqueIndex;not null" json:"-"`
	DecisionMakingModel   ratification.Model `gorm:"size:16;not null" json:"decisionMakingModel"`
	RatificationThreshold int                `gorm:"not null" json:"ratificationThreshold"`
	DisagreementsLimit    int                `gorm:"not null" json:"disagreementsLimit"`
	AbstainsLimit         int                `gorm:"not null" json:"abstainsLimit"`
	QuorumEnabled         bool               `gorm:"not null" json:"quorumEnabled"`
	QuorumThreshold       int                `gorm:"not null" json:"quorumThreshold"`
	MultipleChoice        bool               `gorm:"not null" json:"multipleChoice"`
	ClosingAt             *time.Time         `gorm:"index" json:"closingAt,omitempty"`
	CreatedAt             time.Time          `json:"-"`
	UpdatedAt             time.Time          `json:"-"`
}

// Rules projects the config onto what the calculator needs.
func (c PollConfig) Rules() ratification.Rules {
	return ratification.Rules{
		Model:              c.DecisionMakingModel,
		ThresholdPct:       c.RatificationThreshold,
		DisagreementsLimit: c.DisagreementsLimit,
		AbstainsLimit:      c.AbstainsLimit,
		ClosingAt:          c.ClosingAt,
	}
}

type PollOption struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	PollID    string    `gorm:"size:36;index;not null" json:"-"`
	Text      string    `gorm:"size:256;not null" json:"text"`
	Position  int       `gorm:"not null" json:"position"`
	CreatedAt time.Time `json:"-"`
}

// Ballots. PollOptionID is empty for proposal ballots so the unique index
// allows one ballot per participant per proposal and one per option on polls.
type Vote struct {
	ID           string                `gorm:"primaryKey;size:36" json:"id"`
	PollID       string                `gorm:"size:36;not null;uniqueIndex:idx_vote_ballot,priority:1" json:"pollId"`
	UserID       string                `gorm:"size:36;not null;uniqueIndex:idx_vote_ballot,priority:2" json:"userId"`
	PollOptionID string                `gorm:"size:36;not null;uniqueIndex:idx_vote_ballot,priority:3" json:"pollOptionId,omitempty"`
	VoteType     ratification.VoteType `gorm:"size:16" json:"voteType,omitempty"`
	Rank         *int                  `json:"-"`
	Score        *int                  `json:"-"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// Governance actions
type PollAction struct {
	ID         string          `gorm:"primaryKey;size:36" json:"-"`
	PollID     string          `gorm:"size:36;uniqueIndex;not null" json:"-"`
	ActionType PollActionType  `gorm:"size:32;not null" json:"actionType"`
	ExecutedAt *time.Time      `json:"executedAt,omitempty"`
	Role       *PollActionRole `gorm:"foreignKey:PollActionID;constraint:OnDelete:CASCADE" json:"role,omitempty"`
	CreatedAt  time.Time       `json:"-"`
}

// Captured role change set. RoleID targets an existing role for change-role.
type PollActionRole struct {
	ID           string                 `gorm:"primaryKey;size:36" json:"id"`
	PollActionID string                 `gorm:"size:36;uniqueIndex;not null" json:"-"`
	RoleID       *string                `gorm:"size:36" json:"roleId,omitempty"`
	Name         *string                `gorm:"size:64" json:"name,omitempty"`
	Color        *string                `gorm:"size:16" json:"color,omitempty"`
	PrevName     *string                `gorm:"size:64" json:"prevName,omitempty"`
	PrevColor    *string                `gorm:"size:16" json:"prevColor,omitempty"`
	Permissions  []PollActionPermission `gorm:"foreignKey:PollActionRoleID;constraint:OnDelete:CASCADE" json:"permissions,omitempty"`
	Members      []PollActionRoleMember `gorm:"foreignKey:PollActionRoleID;constraint:OnDelete:CASCADE" json:"members,omitempty"`
}

type PollActionPermission struct {
	ID               string         `gorm:"primaryKey;size:36" json:"-"`
	PollActionRoleID string         `gorm:"size:36;index;not null" json:"-"`
	Action           AbilityAction  `gorm:"size:16;not null" json:"action"`
	Subject          AbilitySubject `gorm:"size:32;not null" json:"subject"`
	ChangeType       ChangeType     `gorm:"size:8;not null" json:"changeType"`
}

type PollActionRoleMember struct {
	ID               string     `gorm:"primaryKey;size:36" json:"-"`
	PollActionRoleID string     `gorm:"size:36;index;not null" json:"-"`
	UserID           string     `gorm:"size:36;not null" json:"userId"`
	ChangeType       ChangeType `gorm:"size:8;not null" json:"changeType"`
}

// Live roles
type Role struct {
	ID          string       `gorm:"primaryKey;size:36" json:"id"`
	Name        string       `gorm:"size:64;not null" json:"name"`
	Color       string       `gorm:"size:16;not null" json:"color"`
	Permissions []Permission `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE" json:"permissions"`
	Members     []RoleMember `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE" json:"members"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Permission struct {
	ID      string         `gorm:"primaryKey;size:36" json:"-"`
	RoleID  string         `gorm:"size:36;not null;uniqueIndex:idx_permission_rule,priority:1" json:"-"`
	Action  AbilityAction  `gorm:"size:16;not null;uniqueIndex:idx_permission_rule,priority:2" json:"action"`
	Subject AbilitySubject `gorm:"size:32;not null;uniqueIndex:idx_permission_rule,priority:3" json:"subject"`
}

type RoleMember struct {
	RoleID    string    `gorm:"primaryKey;size:36" json:"-"`
	UserID    string    `gorm:"primaryKey;size:36" json:"userId"`
	CreatedAt time.Time `json:"-"`
}

// AllModels lists every table in migration order.
var AllModels = []interface{}{
	&User{}, &Channel{}, &ChannelMember{}, &ChannelKey{},
	&ServerConfig{},
	&Role{}, &Permission{}, &RoleMember{},
	&Poll{}, &PollConfig{}, &PollOption{}, &Vote{},
	&PollAction{}, &PollActionRole{}, &PollActionPermission{}, &PollActionRoleMember{},
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func (m *User) BeforeCreate(*gorm.DB) error                 { newID(&m.ID); return nil }
func (m *Channel) BeforeCreate(*gorm.DB) error              { newID(&m.ID); return nil }
func (m *ChannelMember) BeforeCreate(*gorm.DB) error        { newID(&m.ID); return nil }
func (m *ChannelKey) BeforeCreate(*gorm.DB) error           { newID(&m.ID); return nil }
func (m *Poll) BeforeCreate(*gorm.DB) error                 { newID(&m.ID); return nil }
func (m *PollConfig) BeforeCreate(*gorm.DB) error           { newID(&m.ID); return nil }
func (m *PollOption) BeforeCreate(*gorm.DB) error           { newID(&m.ID); return nil }
func (m *Vote) BeforeCreate(*gorm.DB) error                 { newID(&m.ID); return nil }
func (m *PollAction) BeforeCreate(*gorm.DB) error           { newID(&m.ID); return nil }
func (m *PollActionRole) BeforeCreate(*gorm.DB) error       { newID(&m.ID); return nil }
func (m *PollActionPermission) BeforeCreate(*gorm.DB) error { newID(&m.ID); return nil }
func (m *PollActionRoleMember) BeforeCreate(*gorm.DB) error { newID(&m.ID); return nil }
func (m *Role) BeforeCreate(*gorm.DB) error                 { newID(&m.ID); return nil }
func (m *Permission) BeforeCreate(*gorm.DB) error           { newID(&m.ID); return nil }
