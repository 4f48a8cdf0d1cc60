package catalog_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
)

func TestMemory_UpsertOfferVersioning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := catalog.NewMemory()

	created, err := m.UpsertOffer(ctx, domain.Offer{
		ProductID: 1, StoreID: 2, Price: decimal.NewFromInt(25990), Available: true, Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = m.UpsertOffer(ctx, domain.Offer{ProductID: 1, StoreID: 2, Price: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, catalog.ErrVersionConflict, "second create for the same pair")

	update := created
	update.Price = decimal.NewFromInt(22000)
	updated, err := m.UpsertOffer(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, created.ID, updated.ID)

	_, err = m.UpsertOffer(ctx, update)
	require.ErrorIs(t, err, catalog.ErrVersionConflict, "stale version")

	got, err := m.GetOffer(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(22000)))
	assert.Len(t, m.Offers(), 1)
}

func TestMemory_GetOfferNotFound(t *testing.T) {
	t.Parallel()

	_, err := catalog.NewMemory().GetOffer(context.Background(), 9, 9)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestMemory_ProductsAndStores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := catalog.NewMemory()

	oil, err := m.SaveProduct(ctx, domain.Product{Name: "Aceite Castrol 5W30", PartNumber: "CAS-5W30", Active: true})
	require.NoError(t, err)
	_, err = m.SaveProduct(ctx, domain.Product{Name: "Filtro", PartNumber: "OC-90", Active: false})
	require.NoError(t, err)

	renamed, err := m.SaveProduct(ctx, domain.Product{Name: "Aceite Castrol Edge 5W30", PartNumber: "cas-5w30", Active: true})
	require.NoError(t, err)
	assert.Equal(t, oil.ID, renamed.ID, "part numbers match case-insensitively")

	active, err := m.ActiveProducts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Aceite Castrol Edge 5W30", active[0].Name)

	a, err := m.EnsureStore(ctx, "mercado", "https://api.example")
	require.NoError(t, err)
	again, err := m.EnsureStore(ctx, "Mercado", "")
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)

	b, err := m.EnsureStore(ctx, "repuestos", "https://shop.example")
	require.NoError(t, err)
	m.SetStoreActive(b.ID, false)

	stores, err := m.ActiveStores(ctx)
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, "mercado", stores[0].Name)

	_, err = m.Store(ctx, 404)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestMemory_SessionSharesState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := catalog.NewMemory()
	m.AddCategory("Lubricantes")

	session, err := m.Begin(ctx)
	require.NoError(t, err)
	defer session.Close()

	p, err := m.SaveProduct(ctx, domain.Product{Name: "Bujía", PartNumber: "NGK-1", Active: true})
	require.NoError(t, err)

	got, err := session.Product(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "NGK-1", got.PartNumber)

	cats, err := session.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Lubricantes", cats[0].Name)
}
