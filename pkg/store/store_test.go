package store_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store/storetest"
)

func newProduct(sku, source string, price string) *store.Product {
	inc := decimal.RequireFromString(price)

	return &store.Product{
		SKU:         sku,
		Source:      source,
		Name:        "Product " + sku,
		Category:    "Boards",
		PriceIncVAT: inc,
		PriceExVAT:  catalog.ExcludeVAT(inc),
		StockStatus: catalog.StockInStock,
		Metadata:    datatypes.JSONMap{"page": float64(1)},
		LastUpdated: time.Now().UTC(),
	}
}

func TestStore_UpsertAndGetProduct(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	p := newProduct("ARD-1", "communica", "159.99")
	require.NoError(t, s.UpsertProduct(ctx, p))
	require.NotZero(t, p.ID)

	got, err := s.GetProduct(ctx, "ARD-1", "communica")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.True(t, decimal.RequireFromString("159.99").Equal(got.PriceIncVAT))
	assert.Equal(t, catalog.StockInStock, got.StockStatus)
	assert.Nil(t, got.StockQuantity)
	assert.Equal(t, "1", fmt.Sprint(got.Metadata["page"]))

	byID, err := s.GetProductByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ARD-1", byID.SKU)

	_, err = s.GetProduct(ctx, "ARD-1", "microrobotics")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_UpsertProductWritesNullQuantity(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	qty := 5
	p := newProduct("ARD-1", "communica", "100")
	p.StockQuantity = &qty
	require.NoError(t, s.UpsertProduct(ctx, p))

	p.StockQuantity = nil
	p.StockStatus = catalog.StockBackorder
	require.NoError(t, s.UpsertProduct(ctx, p))

	got, err := s.GetProduct(ctx, "ARD-1", "communica")
	require.NoError(t, err)
	assert.Nil(t, got.StockQuantity)
	assert.Equal(t, catalog.StockBackorder, got.StockStatus)
}

func TestStore_SameSKUDifferentSources(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProduct(ctx, newProduct("X1", "communica", "10")))
	require.NoError(t, s.UpsertProduct(ctx, newProduct("X1", "microrobotics", "12")))

	products, total, err := s.ListProducts(ctx, store.ProductFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, products, 2)

	products, total, err = s.ListProducts(ctx, store.ProductFilter{Source: "microrobotics"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, products, 1)
	assert.True(t, decimal.NewFromInt(12).Equal(products[0].PriceIncVAT))
}

func TestStore_ListProductsFilters(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	for i, sku := range []string{"A", "B", "C", "D"} {
		p := newProduct(sku, "communica", "10")
		if i%2 == 0 {
			p.StockStatus = catalog.StockOutOfStock
		}

		require.NoError(t, s.UpsertProduct(ctx, p))
	}

	products, total, err := s.ListProducts(ctx, store.ProductFilter{
		StockStatus: string(catalog.StockOutOfStock),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, products, 2)

	products, total, err = s.ListProducts(ctx, store.ProductFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, products, 1)
	assert.Equal(t, "B", products[0].SKU)

	products, _, err = s.ListProducts(ctx, store.ProductFilter{Search: "product c"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "C", products[0].SKU)
}

func TestStore_Snapshots(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	p := newProduct("ARD-1", "communica", "150")
	require.NoError(t, s.UpsertProduct(ctx, p))

	_, ok, err := s.LatestSnapshotTime(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	for i, price := range []string{"150", "160", "155"} {
		require.NoError(t, s.InsertSnapshot(ctx, &store.StockSnapshot{
			ProductID:   p.ID,
			SKU:         p.SKU,
			Source:      p.Source,
			RunID:       "run-1",
			PriceIncVAT: decimal.RequireFromString(price),
			PriceExVAT:  catalog.ExcludeVAT(decimal.RequireFromString(price)),
			StockStatus: catalog.StockInStock,
			RecordedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	latest, ok, err := s.LatestSnapshotTime(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.Equal(base.Add(2*time.Hour)))

	all, err := s.ListSnapshots(ctx, p.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, decimal.NewFromInt(160).Equal(all[1].PriceIncVAT))

	recent, err := s.ListSnapshots(ctx, p.ID, base.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestStore_InTxRollsBack(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(q store.Querier) error {
		require.NoError(t, q.UpsertProduct(ctx, newProduct("TX-1", "communica", "10")))

		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = s.GetProduct(ctx, "TX-1", "communica")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func newRun(id string, started time.Time, sources ...string) *store.RunRecord {
	run := &store.RunRecord{
		ID:        id,
		Trigger:   store.TriggerManual,
		Status:    store.RunRunning,
		StartedAt: started,
	}

	for _, src := range sources {
		run.Sources = append(run.Sources, store.RunSource{
			Source: src,
			Status: store.SourcePending,
		})
	}

	return run
}

func TestStore_RunRecordLifecycle(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	run := newRun("run-1", started, "communica", "microrobotics")
	require.NoError(t, s.BeginRunRecord(ctx, run))

	srcStart := started.Add(time.Second)
	require.NoError(t, s.UpdateRunRecord(ctx, store.RunDelta{
		RunID:     "run-1",
		Source:    "communica",
		Status:    store.SourceRunning,
		StartedAt: &srcStart,
	}))

	for range 3 {
		require.NoError(t, s.UpdateRunRecord(ctx, store.RunDelta{
			RunID:  "run-1",
			Source: "communica",
			Counts: store.Counts{Found: 1, New: 1},
		}))
	}

	got, err := s.GetRunRecord(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, got.Status)
	require.Len(t, got.Sources, 2)

	communica := got.Source("communica")
	require.NotNil(t, communica)
	assert.Equal(t, store.SourceRunning, communica.Status)
	assert.Equal(t, 3, communica.Found)
	assert.Equal(t, 3, communica.New)
	assert.Equal(t, store.SourcePending, got.Source("microrobotics").Status)

	err = s.UpdateRunRecord(ctx, store.RunDelta{RunID: "run-1", Source: "missing", Status: store.SourceFailed})
	require.ErrorIs(t, err, store.ErrNotFound)

	ended := started.Add(time.Minute)
	final := got.Clone()
	final.Status = store.RunCompletedWithErrors
	final.EndedAt = &ended
	final.Source("communica").Status = store.SourceSucceeded
	final.Source("microrobotics").Status = store.SourceFailed
	final.Source("microrobotics").Error = strings.Repeat("x", 2000)

	require.NoError(t, s.FinalizeRunRecord(ctx, final))

	got, err = s.GetRunRecord(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunCompletedWithErrors, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))
	assert.Len(t, got.Source("microrobotics").Error, store.MaxErrorSummaryLength)
	assert.Equal(t, store.Counts{Found: 3, New: 3}, got.Totals())
}

func TestStore_LatestAndListRunRecords(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	_, err := s.LatestRunRecord(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.BeginRunRecord(ctx, newRun("old", base, "communica")))
	require.NoError(t, s.BeginRunRecord(ctx, newRun("new", base.Add(time.Hour), "communica")))

	latest, err := s.LatestRunRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)
	assert.Len(t, latest.Sources, 1)

	runs, err := s.ListRunRecords(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "old", runs[1].ID)

	_, err = s.GetRunRecord(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", store.TruncateError("short"))

	long := strings.Repeat("é", store.MaxErrorSummaryLength)
	out := store.TruncateError(long)
	assert.LessOrEqual(t, len(out), store.MaxErrorSummaryLength)
	assert.True(t, strings.HasPrefix(long, out))
	assert.Equal(t, 0, len(out)%2)
}
