// Package datastore opens the gorm database backing persistent cache buckets
// and the offline sync queue.
package datastore

import (
	"time"

	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/datastore/entities"
	"github.com/ajspantry/pantry-offline/internal/errors"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// Models lists every table managed by AutoMigrate.
func Models() []any {
	return []any{
		&entities.CacheBucket{},
		&entities.CacheEntry{},
		&entities.SyncItem{},
	}
}

// Open connects to the database selected by settings and migrates the schema.
// The memory cache backend still uses SQLite for the sync queue.
func Open(settings *conf.Settings) (*gorm.DB, error) {
	if settings.Cache.Backend == conf.BackendMySQL {
		return OpenMySQL(settings.Database.MySQLDSN)
	}
	return OpenSQLite(settings.Database.SQLitePath)
}

// OpenSQLite opens a SQLite database at path; ":memory:" gives a private
// in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	return open(sqlite.Open(sqliteDSN(path)), false)
}

// OpenMySQL opens a MySQL database with the given DSN.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	normalized, err := mysqlDSN(dsn)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_dsn").
			Build()
	}
	return open(mysql.Open(normalized), true)
}

// mysqlDSN turns on time.Time scanning, which the entity timestamps need.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return "file::memory:?_foreign_keys=ON"
	}
	return "file:" + path + "?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000"
}

func open(dialector gorm.Dialector, isMySQL bool) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	if isMySQL {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// SQLite serializes writers; a single connection also keeps a
		// :memory: database alive and shared.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		_ = sqlDB.Close()
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
