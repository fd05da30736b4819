// Package sqlitetest opens throwaway SQLite databases with the service schema
// for tests that exercise real SQL (upserts, transactions) without Postgres.
package sqlitetest

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jsndz/signalpush/pkg/database"
	"github.com/jsndz/signalpush/pkg/models"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open returns a migrated database backed by a file in t.TempDir().
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "signalpush.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.MigrateDB(db, models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
