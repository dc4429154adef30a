package db

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/smallbiznis/seatledger/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm dialector for DATABASE_TYPE.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch normalizeType(cfg.DBType) {
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return postgres.Open(dsn), nil
	}
}

// DSN renders the connection string. Every session runs in UTC so stored
// due dates compare the same way on all dialects.
func DSN(cfg config.Config) (string, error) {
	switch normalizeType(cfg.DBType) {
	case "postgres":
		sslmode := cfg.DBSSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, sslmode), nil
	case "mysql":
		params := url.Values{}
		params.Set("charset", "utf8mb4")
		params.Set("parseTime", "true")
		params.Set("loc", "UTC")
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, params.Encode()), nil
	case "sqlite":
		if cfg.DBName == "" || cfg.DBName == ":memory:" {
			return "file::memory:?cache=shared", nil
		}
		if strings.HasSuffix(cfg.DBName, ".db") {
			return cfg.DBName, nil
		}
		return cfg.DBName + ".db", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "postgresql" {
		return "postgres"
	}
	return t
}
