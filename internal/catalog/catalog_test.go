package catalog

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Options{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	t.Cleanup(func() { Close(db) })
	return NewRepository(db)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestOpen_MissingRowsAreNotLogged(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	db, err := Open(ctx, Options{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "catalog.db"), LogWriter: &out})
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	t.Cleanup(func() { Close(db) })
	repo := NewRepository(db)

	for i := 0; i < 3; i++ {
		_, err := repo.FindVariantBySKU(ctx, "NEW-SKU-001")
		require.ErrorIs(t, err, ErrNotFound)
	}
	_, err = repo.FindProductByName(ctx, "Brand New Product")
	require.ErrorIs(t, err, ErrNotFound)

	assert.NotContains(t, out.String(), "record not found")
}

func TestProductAndVariantLookup(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	_, err := repo.FindProductByName(ctx, "Sofa")
	require.ErrorIs(t, err, ErrNotFound)

	p := &Product{Name: "Sofa", GroupKey: "SOF-100", Metadata: map[string]any{"source": "test"}}
	require.NoError(t, repo.CreateProduct(ctx, p))
	require.NotEmpty(t, p.ID)

	stock := 4
	v := &Variant{ProductID: p.ID, SKU: "SOF-100-GRY", StockLevel: &stock}
	require.NoError(t, repo.CreateVariant(ctx, v))

	got, err := repo.FindProductByName(ctx, "Sofa")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "test", got.Metadata["source"])

	byGroup, err := repo.FindProductByGroupKey(ctx, "SOF-100")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byGroup.ID)

	gv, err := repo.FindVariantBySKU(ctx, "SOF-100-GRY")
	require.NoError(t, err)
	require.NotNil(t, gv.StockLevel)
	assert.Equal(t, 4, *gv.StockLevel)

	_, err = repo.FindVariantBySKU(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	dup := &Variant{ProductID: p.ID, SKU: "SOF-100-GRY"}
	assert.Error(t, repo.CreateVariant(ctx, dup), "sku is unique")
}

func TestSetAttributes_Merges(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	p := &Product{Name: "Chair"}
	require.NoError(t, repo.CreateProduct(ctx, p))
	v := &Variant{ProductID: p.ID, SKU: "CHR-1"}
	require.NoError(t, repo.CreateVariant(ctx, v))

	require.NoError(t, repo.SetAttributes(ctx, v, map[string]string{"color": "oak", "material": "wood"}))
	require.NoError(t, repo.SetAttributes(ctx, v, map[string]string{"color": "walnut", "material": ""}))

	got, err := repo.FindVariantBySKU(ctx, "CHR-1")
	require.NoError(t, err)
	assert.Equal(t, "walnut", got.Attributes["color"])
	assert.NotContains(t, got.Attributes, "material")
}

func TestExistingKeys(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	p := &Product{Name: "Lamp"}
	require.NoError(t, repo.CreateProduct(ctx, p))
	require.NoError(t, repo.CreateVariant(ctx, &Variant{ProductID: p.ID, SKU: "LMP-1"}))

	names, err := repo.ExistingProductNames(ctx, []string{"Lamp", "Desk"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"Lamp": true}, names)

	skus, err := repo.ExistingSKUs(ctx, []string{"LMP-1", "LMP-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"LMP-1": true}, skus)

	empty, err := repo.ExistingSKUs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAttachPrice_Upserts(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	p := &Product{Name: "Table"}
	require.NoError(t, repo.CreateProduct(ctx, p))
	v := &Variant{ProductID: p.ID, SKU: "TBL-1"}
	require.NoError(t, repo.CreateVariant(ctx, v))

	require.NoError(t, repo.AttachPrice(ctx, v.ID, ChannelRetail, 100, ""))
	require.NoError(t, repo.AttachPrice(ctx, v.ID, ChannelRetail, 120, ""))
	require.NoError(t, repo.AttachPrice(ctx, v.ID, ChannelCost, 40, ""))

	prices, err := repo.Prices(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{ChannelRetail: 120, ChannelCost: 40}, prices)

	full, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, full.Variants, 1)
	assert.Len(t, full.Variants[0].Prices, 2)
}

func TestBarcodePool(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	added, err := repo.AddBarcodes(ctx, []string{"5901234123457", "5901234123464"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), added)

	added, err = repo.AddBarcodes(ctx, []string{"5901234123457"})
	require.NoError(t, err)
	assert.Zero(t, added)

	n, err := repo.AvailableBarcodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := repo.ReserveBarcode(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "5901234123457", first)

	second, err := repo.ReserveBarcode(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, "5901234123464", second)

	_, err = repo.ReserveBarcode(ctx, "v3")
	assert.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, repo.ReleaseBarcodes(ctx, "v1"))
	n, err = repo.AvailableBarcodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReserveBarcode_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	codes := []string{"00000001", "00000002", "00000003", "00000004"}
	_, err := repo.AddBarcodes(ctx, codes)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got = map[string]bool{}
		wg  sync.WaitGroup
	)
	for i := 0; i < len(codes); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := repo.ReserveBarcode(ctx, string(rune('a'+i)))
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, got[code], "code %s handed out twice", code)
			got[code] = true
		}(i)
	}
	wg.Wait()
	assert.NotEmpty(t, got)
}

func TestTransaction_RollsBack(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	err := repo.Transaction(ctx, func(tx *Repository) error {
		require.NoError(t, tx.CreateProduct(ctx, &Product{Name: "Ghost"}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = repo.FindProductByName(ctx, "Ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	products, variants, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, products)
	assert.Zero(t, variants)
}
