//go:build integration

package containers

import (
	"context"
	"fmt"
	"regexp"

	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"gorm.io/gorm"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MySQLConfig configures the MySQL container. Zero fields take the
// pantry_offline_test defaults.
type MySQLConfig struct {
	Image    string
	Database string
	Username string
	Password string
}

func (c *MySQLConfig) withDefaults() MySQLConfig {
	out := MySQLConfig{
		Image:    "mysql:8.0",
		Database: "pantry_offline_test",
		Username: "pantry",
		Password: "pantry",
	}
	if c == nil {
		return out
	}
	if c.Image != "" {
		out.Image = c.Image
	}
	if c.Database != "" {
		out.Database = c.Database
	}
	if c.Username != "" {
		out.Username = c.Username
	}
	if c.Password != "" {
		out.Password = c.Password
	}
	return out
}

// MySQLContainer runs a MySQL server for the persistent cache backend.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	dsn       string
}

// NewMySQLContainer starts MySQL and resolves a DSN for it.
func NewMySQLContainer(ctx context.Context, cfg *MySQLConfig) (*MySQLContainer, error) {
	conf := cfg.withDefaults()

	c, err := mysql.Run(ctx, conf.Image,
		mysql.WithDatabase(conf.Database),
		mysql.WithUsername(conf.Username),
		mysql.WithPassword(conf.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("start mysql: %w", err)
	}

	dsn, err := c.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4")
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, fmt.Errorf("mysql connection string: %w", err)
	}
	return &MySQLContainer{container: c, dsn: dsn}, nil
}

// DSN returns a go-sql-driver/mysql DSN for the container.
func (c *MySQLContainer) DSN() string {
	return c.dsn
}

// Reset empties tables between tests. Foreign key checks are off for the
// duration so cache_entries and cache_buckets truncate in any order.
func (c *MySQLContainer) Reset(ctx context.Context, db *gorm.DB, tables ...string) error {
	return db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		if err := tx.Exec("SET FOREIGN_KEY_CHECKS = 0").Error; err != nil {
			return err
		}
		defer tx.Exec("SET FOREIGN_KEY_CHECKS = 1")

		for _, table := range tables {
			if !tableNameRe.MatchString(table) {
				return fmt.Errorf("invalid table name %q", table)
			}
			if err := tx.Exec("TRUNCATE TABLE `" + table + "`").Error; err != nil {
				return fmt.Errorf("truncate %s: %w", table, err)
			}
		}
		return nil
	})
}

// Terminate stops and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
