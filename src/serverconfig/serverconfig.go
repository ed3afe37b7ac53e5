// Package serverconfig reads and edits the instance-wide decision defaults.
package serverconfig

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/stake-plus/govdecisions/src/data"
	"github.com/stake-plus/govdecisions/src/ratification"
	"github.com/stake-plus/govdecisions/src/types"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

// Patch is a partial update; nil fields keep their current value.
type Patch struct {
	DecisionMakingModel   *ratification.Model `json:"decisionMakingModel"`
	DisagreementsLimit    *int                `json:"disagreementsLimit"`
	AbstainsLimit         *int                `json:"abstainsLimit"`
	RatificationThreshold *int                `json:"ratificationThreshold"`
	QuorumEnabled         *bool               `json:"quorumEnabled"`
	QuorumThreshold       *int                `json:"quorumThreshold"`
	VotingTimeLimit       *int                `json:"votingTimeLimit"`
}

func (p Patch) apply(cfg types.ServerConfig) types.ServerConfig {
	if p.DecisionMakingModel != nil {
		cfg.DecisionMakingModel = *p.DecisionMakingModel
	}
	if p.DisagreementsLimit != nil {
		cfg.DisagreementsLimit = *p.DisagreementsLimit
	}
	if p.AbstainsLimit != nil {
		cfg.AbstainsLimit = *p.AbstainsLimit
	}
	if p.RatificationThreshold != nil {
		cfg.RatificationThreshold = *p.RatificationThreshold
	}
	if p.QuorumEnabled != nil {
		cfg.QuorumEnabled = *p.QuorumEnabled
	}
	if p.QuorumThreshold != nil {
		cfg.QuorumThreshold = *p.QuorumThreshold
	}
	if p.VotingTimeLimit != nil {
		cfg.VotingTimeLimit = *p.VotingTimeLimit
	}
	return cfg
}

// Validate checks a complete config.
func Validate(cfg types.ServerConfig) error {
	switch {
	case !cfg.DecisionMakingModel.Valid():
		return &ValidationError{"decisionMakingModel", fmt.Sprintf("unknown model %q", cfg.DecisionMakingModel)}
	case cfg.DisagreementsLimit < 0 || cfg.DisagreementsLimit > 10:
		return &ValidationError{"disagreementsLimit", "must be between 0 and 10"}
	case cfg.AbstainsLimit < 0 || cfg.AbstainsLimit > 10:
		return &ValidationError{"abstainsLimit", "must be between 0 and 10"}
	case cfg.RatificationThreshold < 1 || cfg.RatificationThreshold > 100:
		return &ValidationError{"ratificationThreshold", "must be between 1 and 100"}
	case cfg.DecisionMakingModel == ratification.ModelMajorityVote && cfg.RatificationThreshold <= 50:
		return &ValidationError{"ratificationThreshold", "must be greater than 50 for majority vote"}
	case cfg.QuorumThreshold < 1 || cfg.QuorumThreshold > 100:
		return &ValidationError{"quorumThreshold", "must be between 1 and 100"}
	case cfg.VotingTimeLimit < 0:
		return &ValidationError{"votingTimeLimit", "must not be negative"}
	case cfg.DecisionMakingModel == ratification.ModelConsent && cfg.VotingTimeLimit == 0:
		return &ValidationError{"votingTimeLimit", "consent needs a voting time limit"}
	}
	return nil
}

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) Service { return Service{db: db} }

func (s Service) Get(ctx context.Context) (types.ServerConfig, error) {
	return data.LoadServerConfig(s.db.WithContext(ctx))
}

// Update merges p into the stored config, validates the result and saves it.
// Existing decision items keep the snapshot they were created with.
func (s Service) Update(ctx context.Context, p Patch) (types.ServerConfig, error) {
	var out types.ServerConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := data.LoadServerConfig(tx)
		if err != nil {
			return err
		}
		next := p.apply(current)
		if err := Validate(next); err != nil {
			return err
		}
		if err := data.SaveServerConfig(tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return types.ServerConfig{}, err
	}
	log.Info("server config updated", "model", out.DecisionMakingModel, "threshold", out.RatificationThreshold)
	return out, nil
}
