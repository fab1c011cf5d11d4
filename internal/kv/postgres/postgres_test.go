// Package postgres provides PostgreSQL engine testing for condo_sync.
package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

// TestPut tests the upsert and index replacement with mock
func TestPut(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	value := []byte(`{"id":1}`)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO condo_kv ").
		WithArgs("boletos", "1", value).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM condo_kv_index").
		WithArgs("boletos", "1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO condo_kv_index").
		WithArgs("boletos", "1", "dirty", "1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO condo_kv_index").
		WithArgs("boletos", "1", "status", "pendente").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	e := New(mock)
	err = e.Put(ctx, "boletos", "1", value, map[string]string{"status": "pendente", "dirty": "1"})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPut_RollsBackOnError tests that a failed index insert aborts the transaction
func TestPut_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	value := []byte(`{}`)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO condo_kv ").
		WithArgs("boletos", "1", value).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM condo_kv_index").
		WithArgs("boletos", "1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = New(mock).Put(ctx, "boletos", "1", value, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpdate tests the locked read-modify-write with mock
func TestUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("boletos", "1").
		WillReturnRows(mock.NewRows([]string{"value"}).AddRow([]byte(`{"v":1}`)))
	mock.ExpectExec("INSERT INTO condo_kv ").
		WithArgs("boletos", "1", []byte(`{"v":2}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM condo_kv_index").
		WithArgs("boletos", "1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO condo_kv_index").
		WithArgs("boletos", "1", "dirty", "false").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	var seen string
	err = New(mock).Update(ctx, "boletos", "1", func(current []byte, found bool) (kv.Change, error) {
		assert.True(t, found)
		seen = string(current)
		return kv.Change{Value: []byte(`{"v":2}`), Indexes: map[string]string{"dirty": "false"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, seen)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUpdate_SkipAndDelete tests that a skipped update rolls back and a delete change removes the row
func TestUpdate_SkipAndDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	e := New(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("boletos", "404").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err = e.Update(ctx, "boletos", "404", func(current []byte, found bool) (kv.Change, error) {
		assert.False(t, found)
		assert.Nil(t, current)
		return kv.Change{}, kv.ErrSkip
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("cache", "k").
		WillReturnRows(mock.NewRows([]string{"value"}).AddRow([]byte(`{}`)))
	mock.ExpectExec("DELETE FROM condo_kv WHERE").
		WithArgs("cache", "k").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err = e.Update(ctx, "cache", "k", func([]byte, bool) (kv.Change, error) {
		return kv.Change{Delete: true}, nil
	})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestGet tests value lookup and the not found mapping with mock
func TestGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()

	mock.ExpectQuery("SELECT value FROM condo_kv").
		WithArgs("boletos", "1").
		WillReturnRows(mock.NewRows([]string{"value"}).AddRow([]byte(`{"id":1}`)))
	mock.ExpectQuery("SELECT value FROM condo_kv").
		WithArgs("boletos", "2").
		WillReturnError(pgx.ErrNoRows)

	e := New(mock)
	got, err := e.Get(ctx, "boletos", "1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(got))

	_, err = e.Get(ctx, "boletos", "2")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestList tests partition listing with mock
func TestList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := mock.NewRows([]string{"key", "value"}).
		AddRow("1", []byte(`{"id":1}`)).
		AddRow("2", []byte(`{"id":2}`))
	mock.ExpectQuery("SELECT key, value FROM condo_kv").
		WithArgs("boletos").
		WillReturnRows(rows)

	items, err := New(mock).List(context.Background(), "boletos")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].Key)
	assert.Equal(t, "2", items[1].Key)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestListByIndex tests index lookups with mock
func TestListByIndex(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM condo_kv_index i").
		WithArgs("boletos", "status", "pago").
		WillReturnRows(mock.NewRows([]string{"key", "value"}))

	items, err := New(mock).ListByIndex(context.Background(), "boletos", "status", "pago")
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestDeleteAndClear tests removal statements with mock
func TestDeleteAndClear(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()

	mock.ExpectExec("DELETE FROM condo_kv WHERE partition = \\$1 AND key = \\$2").
		WithArgs("boletos", "1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM condo_kv WHERE partition = \\$1").
		WithArgs("boletos").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	e := New(mock)
	require.NoError(t, e.Delete(ctx, "boletos", "1"))
	require.NoError(t, e.Clear(ctx, "boletos"))
	require.NoError(t, e.Close())

	require.NoError(t, mock.ExpectationsWereMet())
}
