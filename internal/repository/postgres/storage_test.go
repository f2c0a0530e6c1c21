package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartengine/internal/repository/postgres/migrations"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

const testKey = "storefront:cart:sess-1"

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestStorage_Read_Success(t *testing.T) {
	mock := newMock(t)
	payload := []byte(`[{"productId":"p1","quantity":2,"unitPrice":100}]`)

	mock.ExpectQuery(regexp.QuoteMeta(readSnapshotSQL)).
		WithArgs(testKey).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := NewStorage(mock).Read(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Read_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(readSnapshotSQL)).
		WithArgs(testKey).
		WillReturnError(pgx.ErrNoRows)

	_, err := NewStorage(mock).Read(context.Background(), testKey)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Read_DBError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(readSnapshotSQL)).
		WithArgs(testKey).
		WillReturnError(errors.New("connection reset"))

	_, err := NewStorage(mock).Read(context.Background(), testKey)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
	assert.Contains(t, err.Error(), "select snapshot")
}

func TestStorage_Write_Upserts(t *testing.T) {
	mock := newMock(t)
	payload := []byte(`[]`)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cart_snapshots")).
		WithArgs(testKey, payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewStorage(mock).Write(context.Background(), testKey, payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Write_Error(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cart_snapshots")).
		WithArgs(testKey, []byte(`[]`)).
		WillReturnError(errors.New("disk full"))

	err := NewStorage(mock).Write(context.Background(), testKey, []byte(`[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert snapshot")
}

func TestStorage_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool() // pgxmock v4 always monitors pings
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()
	assert.NoError(t, NewStorage(mock).Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_Embedded(t *testing.T) {
	data, err := migrations.FS.ReadFile("001_create_cart_snapshots.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS cart_snapshots")
}
