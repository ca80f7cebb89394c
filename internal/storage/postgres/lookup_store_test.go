package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/favicon-edge/internal/favicon"
)

func TestRecordLookupInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLookupStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := favicon.LookupRecord{
		ID:          "uuid-v7",
		SiteURL:     "https://example.com/",
		IconURL:     "https://example.com/x.png",
		Strategy:    favicon.StrategyDeep,
		Source:      favicon.SourceLink,
		StatusCode:  200,
		ContentType: "image/png",
		Bytes:       512,
		CacheKey:    "GET https://edge/api/favicon?url=example.com",
		ResolvedAt:  now,
		Duration:    1500 * time.Millisecond,
	}

	mock.ExpectExec("INSERT INTO favicon_lookups").
		WithArgs(
			rec.ID,
			rec.SiteURL,
			rec.IconURL,
			"deep",
			"link",
			rec.StatusCode,
			rec.ContentType,
			rec.Bytes,
			rec.CacheKey,
			rec.ResolvedAt,
			int64(1500),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordLookup(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLookupRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLookupStoreWithPool(mock, "lookups")
	require.NoError(t, err)
	require.Error(t, store.RecordLookup(context.Background(), favicon.LookupRecord{}))
}

func TestRecordLookupPropagatesExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLookupStoreWithPool(mock, "lookups")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO lookups").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("disk full"))
	err = store.RecordLookup(context.Background(), favicon.LookupRecord{ID: "x"})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAndPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLookupStoreWithPool(mock, "lookups")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS lookups").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectPing()
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewLookupStoreWithPool(mock, "bad; DROP TABLE x")
	require.Error(t, err)
	_, err = NewLookupStoreWithPool(nil, "")
	require.Error(t, err)
	_, err = NewLookupStore(context.Background(), LookupStoreConfig{})
	require.Error(t, err)
}
