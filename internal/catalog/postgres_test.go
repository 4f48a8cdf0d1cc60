package catalog_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
)

// offerColumns lists the columns returned by offer queries.
var offerColumns = []string{
	"id", "product_id", "store_id", "price", "previous_price", "is_markdown",
	"available", "source_url", "active", "version", "created_at", "updated_at",
}

func newPostgres(t *testing.T) (*catalog.Postgres, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return catalog.NewPostgres(sqlx.NewDb(mockDB, "postgres")), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ActiveProducts(t *testing.T) {
	t.Parallel()

	store, mock := newPostgres(t)
	categoryID := int64(3)

	mock.ExpectQuery("SELECT .+ FROM products WHERE active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "part_number", "category_id", "active"}).
			AddRow(1, "Aceite Castrol 5W30", "CAS-5W30", categoryID, true).
			AddRow(2, "Filtro de aceite", "OC-90", nil, true))

	products, err := store.ActiveProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "CAS-5W30", products[0].PartNumber)
	require.NotNil(t, products[0].CategoryID)
	assert.Equal(t, categoryID, *products[0].CategoryID)
	assert.Nil(t, products[1].CategoryID)

	expectationsMet(t, mock)
}

func TestPostgres_GetOffer(t *testing.T) {
	t.Parallel()

	store, mock := newPostgres(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM offers WHERE product_id").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows(offerColumns).
			AddRow(10, 1, 2, "25990.00", "30000.00", true, true, "https://shop/p", true, 4, now, now))

	offer, err := store.GetOffer(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, offer.Price.Equal(decimal.NewFromInt(25990)))
	require.NotNil(t, offer.PreviousPrice)
	assert.True(t, offer.PreviousPrice.Equal(decimal.NewFromInt(30000)))
	assert.Equal(t, int64(4), offer.Version)

	expectationsMet(t, mock)
}

func TestPostgres_GetOfferNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newPostgres(t)

	mock.ExpectQuery("SELECT .+ FROM offers WHERE product_id").
		WithArgs(int64(1), int64(2)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetOffer(context.Background(), 1, 2)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	expectationsMet(t, mock)
}

func TestPostgres_InsertOffer(t *testing.T) {
	t.Parallel()

	store, mock := newPostgres(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO offers .+ ON CONFLICT \\(product_id, store_id\\) DO NOTHING").
		WithArgs(int64(1), int64(2), "25990", nil, false, true, "https://shop/p", true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(offerColumns).
			AddRow(10, 1, 2, "25990", nil, false, true, "https://shop/p", true, 1, now, now))

	stored, err := store.UpsertOffer(context.Background(), domain.Offer{
		ProductID: 1, StoreID: 2, Price: decimal.NewFromInt(25990),
		Available: true, SourceURL: "https://shop/p", Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.ID)
	assert.Equal(t, int64(1), stored.Version)
	assert.Nil(t, stored.PreviousPrice)

	expectationsMet(t, mock)
}

func TestPostgres_InsertOfferConflict(t *testing.T) {
	t.Parallel()

	store, mock := newPostgres(t)

	// ON CONFLICT DO NOTHING returns no row for an existing pair.
	mock.ExpectQuery("INSERT INTO offers").
		WillReturnRows(sqlmock.NewRows(offerColumns))

	_, err := store.UpsertOffer(context.Background(), domain.Offer{ProductID: 1, StoreID: 2, Price: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, catalog.ErrVersionConflict)

	expectationsMet(t, mock)
}

func TestPostgres_UpdateOfferStaleVersion(t *testing.T) {
	t.Parallel()

	store, mock := newPostgres(t)
	previous := decimal.NewFromInt(25990)

	mock.ExpectQuery("UPDATE offers .+ WHERE id = \\$1 AND version = \\$2").
		WithArgs(int64(10), int64(3), "22000", "25990", true, true, "https://shop/p", true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(offerColumns))

	_, err := store.UpsertOffer(context.Background(), domain.Offer{
		ID: 10, ProductID: 1, StoreID: 2, Version: 3,
		Price: decimal.NewFromInt(22000), PreviousPrice: &previous, IsMarkdown: true,
		Available: true, SourceURL: "https://shop/p", Active: true,
	})
	require.ErrorIs(t, err, catalog.ErrVersionConflict)

	expectationsMet(t, mock)
}

func TestPostgres_SessionPinsConnection(t *testing.T) {
	t.Parallel()

	store, mock := newPostgres(t)

	mock.ExpectQuery("SELECT .+ FROM stores WHERE active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "base_url", "active"}).
			AddRow(1, "mercado", "https://api.example", true))

	session, err := store.Begin(context.Background())
	require.NoError(t, err)

	stores, err := session.ActiveStores(context.Background())
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, "mercado", stores[0].Name)
	require.NoError(t, session.Close())

	expectationsMet(t, mock)
}

func TestPostgres_EnsureStore(t *testing.T) {
	t.Parallel()

	store, mock := newPostgres(t)

	mock.ExpectExec("INSERT INTO stores .+ ON CONFLICT \\(name\\) DO NOTHING").
		WithArgs("repuestos", "https://shop.example").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .+ FROM stores WHERE name").
		WithArgs("repuestos").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "base_url", "active"}).
			AddRow(7, "repuestos", "https://shop.example", true))

	s, err := store.EnsureStore(context.Background(), "repuestos", "https://shop.example")
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.ID)

	expectationsMet(t, mock)
}

func TestPostgres_SaveProduct(t *testing.T) {
	t.Parallel()

	store, mock := newPostgres(t)

	mock.ExpectQuery("INSERT INTO products .+ ON CONFLICT \\(part_number\\) DO UPDATE").
		WithArgs("Filtro de aceite", "OC-90", nil, true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	p, err := store.SaveProduct(context.Background(), domain.Product{Name: "Filtro de aceite", PartNumber: "OC-90", Active: true})
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.ID)

	expectationsMet(t, mock)
}
