package postgres

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

func TestStoreRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := crawler.CrawlRecord{
		ID:           "uuid-v7",
		RequestID:    "req-1",
		URL:          "https://example.com",
		FinalURL:     "https://example.com/",
		StatusCode:   200,
		Success:      true,
		UsedHeadless: false,
		ContentType:  "text/html",
		Headers:      http.Header{"Content-Type": {"text/html"}},
		ContentHash:  "abc123",
		BlobURI:      "gs://bucket/path",
		DurationMs:   42,
		FetchedAt:    now,
	}

	mock.ExpectExec("INSERT INTO crawl_records").
		WithArgs(
			rec.ID,
			rec.RequestID,
			rec.URL,
			rec.FinalURL,
			rec.StatusCode,
			rec.Success,
			rec.UsedHeadless,
			rec.ContentType,
			[]byte(`{"Content-Type":["text/html"]}`),
			rec.ContentHash,
			rec.BlobURI,
			rec.DurationMs,
			rec.FetchedAt,
			"",
			"",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecordFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "history")
	require.NoError(t, err)

	rec := crawler.CrawlRecord{
		ID:        "id-2",
		RequestID: "req-2",
		URL:       "https://down.example",
		ErrorKind: crawler.KindNetwork,
		ErrorText: "dial tcp: connection refused",
		FetchedAt: time.Unix(1700000000, 0).UTC(),
	}
	mock.ExpectExec("INSERT INTO history").
		WithArgs(
			rec.ID, rec.RequestID, rec.URL, "", 0, false, false, "",
			[]byte(`{}`), "", "", int64(0), rec.FetchedAt, "network_failure", rec.ErrorText,
		).
		WillReturnError(errors.New("db down"))

	err = store.StoreRecord(context.Background(), rec)
	require.ErrorContains(t, err, "db down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecordRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.StoreRecord(context.Background(), crawler.CrawlRecord{}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_records").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("unreachable"))
	require.ErrorContains(t, store.Ping(context.Background()), "unreachable")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRecordStoreWithPool(mock, "bad-name;drop")
	require.Error(t, err)

	_, err = NewRecordStore(context.Background(), Config{})
	require.Error(t, err)
}
