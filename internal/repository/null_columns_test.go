package repository

import (
	"database/sql"
	"database/sql/driver"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// rowDriver replays a canned result set for every query, the way a fresh
// INSERT leaves its row: columns never written are NULL.
type rowDriver struct {
	cols []string
	rows [][]driver.Value
}

func (d *rowDriver) Open(string) (driver.Conn, error) { return &rowConn{d: d}, nil }

type rowConn struct{ d *rowDriver }

func (c *rowConn) Prepare(string) (driver.Stmt, error) { return &rowStmt{d: c.d}, nil }
func (c *rowConn) Close() error                        { return nil }
func (c *rowConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

type rowStmt struct{ d *rowDriver }

func (s *rowStmt) Close() error  { return nil }
func (s *rowStmt) NumInput() int { return -1 }

func (s *rowStmt) Exec([]driver.Value) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}

func (s *rowStmt) Query([]driver.Value) (driver.Rows, error) {
	return &rowSet{cols: s.d.cols, rows: s.d.rows}, nil
}

type rowSet struct {
	cols []string
	rows [][]driver.Value
	i    int
}

func (r *rowSet) Columns() []string { return r.cols }
func (r *rowSet) Close() error      { return nil }

func (r *rowSet) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}

func openRowDB(t *testing.T, name string, cols []string, rows [][]driver.Value) *sql.DB {
	t.Helper()
	sql.Register(name, &rowDriver{cols: cols, rows: rows})
	db, err := sql.Open(name, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestListActiveScansFreshBindingRow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "campaign_id", "channel_id", "variant_id", "order_index", "state",
		"consecutive_failures", "last_error", "removed_at", "removal_count", "removal_history",
		"created_at", "updated_at",
	}
	// Exactly what CreateBatch leaves behind: last_error, removed_at and
	// updated_at are all still NULL.
	row := []driver.Value{
		int64(2), int64(1), int64(10), int64(100), int64(0), "active",
		int64(0), nil, nil, int64(0), []byte("[]"),
		now, nil,
	}
	db := openRowDB(t, "fresh-binding-row", cols, [][]driver.Value{row})

	repo := &BindingRepository{DB: db}
	bindings, err := repo.ListActive(1)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	require.Equal(t, 2, bindings[0].ID)
	require.Equal(t, "", bindings[0].LastError)
	require.Nil(t, bindings[0].RemovedAt)
	require.Nil(t, bindings[0].UpdatedAt)
}

func TestGetByIDScansFreshMessageRow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "campaign_id", "contact_id", "binding_id", "phone", "status", "rendered_content",
		"provider_message_id", "error_message", "attempt_count", "sent_at", "delivered_at", "read_at", "failed_at",
		"created_at", "updated_at",
	}
	// A message straight out of GetOrCreate: no binding, no content, no
	// provider id, no error, no timestamps beyond created/updated.
	row := []driver.Value{
		int64(7), int64(1), int64(3), nil, "5511987654321", "pending", nil,
		nil, nil, int64(0), nil, nil, nil, nil,
		now, now,
	}
	db := openRowDB(t, "fresh-message-row", cols, [][]driver.Value{row})

	repo := &MessageRepository{DB: db}
	m, err := repo.GetByID(7)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "pending", m.Status)
	require.Nil(t, m.BindingID)
	require.Equal(t, "", m.RenderedContent)
	require.Equal(t, "", m.ProviderMessageID)
	require.Equal(t, "", m.ErrorMessage)
	require.Nil(t, m.SentAt)
}
