package data

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/stake-plus/govdecisions/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Migrate creates or updates every table and seeds the server config row.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(types.AllModels...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return EnsureServerConfig(db)
}

// EnsureServerConfig inserts the default decision settings when missing.
func EnsureServerConfig(db *gorm.DB) error {
	def := types.DefaultServerConfig()
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&def)
	if res.Error != nil {
		return fmt.Errorf("seed server config: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Info("seeded default server config", "model", def.DecisionMakingModel, "threshold", def.RatificationThreshold)
	}
	return nil
}

// LoadServerConfig returns the current instance-wide decision defaults.
func LoadServerConfig(db *gorm.DB) (types.ServerConfig, error) {
	var cfg types.ServerConfig
	err := db.First(&cfg, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.DefaultServerConfig(), nil
	}
	if err != nil {
		return types.ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	return cfg, nil
}

// SaveServerConfig replaces the decision defaults. Callers validate first.
func SaveServerConfig(db *gorm.DB, cfg types.ServerConfig) error {
	cfg.ID = 1
	if err := db.Save(&cfg).Error; err != nil {
		return fmt.Errorf("save server config: %w", err)
	}
	return nil
}
