package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/settle?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "settle"}))
	assert.Equal(t, "postgres://u:p@db:6543/settle?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Port: 6543, Database: "settle", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "  postgres://x ", Host: "ignored"}))
}

func TestListQuery(t *testing.T) {
	since := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := listQuery("SELECT id FROM t WHERE TRUE", domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT id FROM t WHERE TRUE AND created_at >= $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3", query)
	assert.Equal(t, []any{since, 10, 20}, args)

	query, args = listQuery("SELECT id FROM t WHERE TRUE", domain.ListOpts{})
	assert.Equal(t, "SELECT id FROM t WHERE TRUE ORDER BY created_at DESC, id DESC", query)
	assert.Empty(t, args)
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_ledger_receipts.sql", "002_audit_log.sql"}, names)
}

func TestDecodeEvents_KeepsLargeIntegers(t *testing.T) {
	raw := []byte(`[{"name":"Issuance","values":{"_amount":1000000000000000000000}}]`)
	events, err := decodeEvents(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, json.Number("1000000000000000000000"), events[0].Values["_amount"])

	events, err = decodeEvents(nil)
	require.NoError(t, err)
	assert.Nil(t, events)
}
