package data

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqliteScheme = "sqlite://"

// Connect opens a gorm DB for a MySQL DSN or a sqlite://<path> DSN.
func Connect(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	if strings.HasPrefix(dsn, sqliteScheme) {
		return ConnectSQLite(strings.TrimPrefix(dsn, sqliteScheme))
	}
	return ConnectMySQL(dsn)
}

// ConnectMySQL opens a gorm DB with sane defaults.
func ConnectMySQL(dsn string) (*gorm.DB, error) {
	dsn = ensureParam(dsn, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
		dsn = ensureParam(dsn, "collation", "utf8mb4_unicode_ci")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger(), TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return db, nil
}

// ConnectSQLite opens a file-backed sqlite DB. Writes are serialized on one
// connection; sqlite has a single writer anyway.
func ConnectSQLite(path string) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger(), TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// MustConnect is Connect that exits on failure.
func MustConnect(dsn string) *gorm.DB {
	db, err := Connect(dsn)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	return db
}

func gormLogger() logger.Interface {
	return logger.New(
		log.Default().StandardLog(log.StandardLogOptions{ForceLevel: log.WarnLevel}),
		logger.Config{SlowThreshold: time.Second, LogLevel: logger.Warn, IgnoreRecordNotFoundError: true, Colorful: false},
	)
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}
