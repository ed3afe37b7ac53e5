// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stake-plus/govdecisions/src/data"
	"github.com/stake-plus/govdecisions/src/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MasterKey is a fixed 32-byte key for sealer tests.
var MasterKey = []byte("0123456789abcdef0123456789abcdef")

// OpenDB returns a migrated sqlite DB living in t.TempDir().
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := data.ConnectSQLite(filepath.Join(t.TempDir(), "govdecisions.db"))
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Users inserts n eligible users named user-0..user-n-1.
func Users(t *testing.T, db *gorm.DB, n int) []types.User {
	t.Helper()
	users := make([]types.User, n)
	for i := range users {
		users[i] = types.User{Name: fmt.Sprintf("user-%d", i), DisplayName: fmt.Sprintf("User %d", i)}
	}
	if n > 0 {
		require.NoError(t, db.Create(&users).Error)
	}
	return users
}

// Channel creates a channel whose members are the given users.
func Channel(t *testing.T, db *gorm.DB, members ...types.User) types.Channel {
	t.Helper()
	ch := types.Channel{Name: "general"}
	require.NoError(t, db.Create(&ch).Error)
	for _, u := range members {
		require.NoError(t, db.Create(&types.ChannelMember{ChannelID: ch.ID, UserID: u.ID}).Error)
	}
	return ch
}

// Role creates a role with the given permissions and members.
func Role(t *testing.T, db *gorm.DB, name, color string, perms []types.Permission, members ...types.User) types.Role {
	t.Helper()
	role := types.Role{Name: name, Color: color, Permissions: perms}
	for _, u := range members {
		role.Members = append(role.Members, types.RoleMember{UserID: u.ID})
	}
	require.NoError(t, db.Create(&role).Error)
	return role
}

// Clock is a settable time source.
type Clock struct {
	T time.Time
}

func NewClock() *Clock {
	return &Clock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }
