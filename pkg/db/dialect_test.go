package db

import (
	"testing"

	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	base := config.Config{DBHost: "db", DBPort: "5432", DBUser: "ledger", DBPassword: "secret", DBName: "seatledger"}

	cases := []struct {
		name   string
		dbType string
		dbName string
		want   string
	}{
		{"postgres", "postgres", "seatledger", "host=db port=5432 user=ledger password=secret dbname=seatledger sslmode=disable TimeZone=UTC"},
		{"postgresql alias", "PostgreSQL", "seatledger", "host=db port=5432 user=ledger password=secret dbname=seatledger sslmode=disable TimeZone=UTC"},
		{"mysql", "mysql", "seatledger", "ledger:secret@tcp(db:5432)/seatledger?charset=utf8mb4&loc=UTC&parseTime=true"},
		{"sqlite file", "sqlite", "seatledger", "seatledger.db"},
		{"sqlite memory", "sqlite", ":memory:", "file::memory:?cache=shared"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.DBType = tc.dbType
			cfg.DBName = tc.dbName
			got, err := DSN(cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := DSN(config.Config{DBType: "oracle"})
	assert.Error(t, err)
}
