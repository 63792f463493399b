package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/formrelay/internal/form"
	"github.com/R3E-Network/formrelay/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS form_submissions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO form_submissions (ts, fields)")).
		WithArgs("2024-01-01 00:00:00.000001", []byte(`{"name":"Alice"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Append(context.Background(), "2024-01-01 00:00:00.000001", form.Submission{"name": "Alice"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_ExecErrorIsIO(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO form_submissions")).
		WillReturnError(errors.New("connection reset"))

	err := s.Append(context.Background(), "ts", form.Submission{"a": "b"})
	assert.ErrorIs(t, err, storage.ErrIO)
}

func TestLoad(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"ts", "fields"}).
		AddRow("ts1", []byte(`{"name":"Alice","msg":"Hi"}`)).
		AddRow("ts2", []byte(`{"name":"Bob"}`))
	mock.ExpectQuery(regexp.QuoteMeta(selectAllSQL)).WillReturnRows(rows)

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.Document{
		"ts1": {"name": "Alice", "msg": "Hi"},
		"ts2": {"name": "Bob"},
	}, doc)
}

func TestLoad_BadRowIsFormatError(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"ts", "fields"}).AddRow("ts1", []byte(`[1]`))
	mock.ExpectQuery(regexp.QuoteMeta(selectAllSQL)).WillReturnRows(rows)

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrFormat)
}
