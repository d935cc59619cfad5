package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/threadpass/pipeline/pkg/core"
)

func newTestCatalog(t *testing.T) *GormCatalog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	c := NewGormCatalog(db)
	require.NoError(t, c.Migrate(context.Background()))
	return c
}

func seedProduct(t *testing.T, c *GormCatalog, brandID, upid string) *Product {
	t.Helper()
	p := &Product{BrandID: brandID, UPID: upid, Name: "Product " + upid, GroupKey: upid}
	require.NoError(t, c.CreateProduct(context.Background(), p))
	return p
}

func TestCreateAndGetProduct(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	p := seedProduct(t, c, "brand-1", "UPID-1")
	assert.NotEmpty(t, p.ID)
	assert.EqualValues(t, 1, p.Version)

	got, err := c.GetProductByUPID(ctx, "brand-1", "UPID-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)

	// UPIDs are scoped per brand.
	got, err = c.GetProductByUPID(ctx, "brand-2", "UPID-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateProduct_VersionCAS(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	p := seedProduct(t, c, "brand-1", "UPID-1")

	p.Name = "Renamed"
	require.NoError(t, c.UpdateProduct(ctx, p, 1))
	assert.EqualValues(t, 2, p.Version)

	// A writer holding the old version loses.
	stale := &Product{ID: p.ID, BrandID: "brand-1", UPID: "UPID-1", Name: "Stale"}
	err := c.UpdateProduct(ctx, stale, 1)
	assert.ErrorIs(t, err, core.ErrVersionConflict)

	got, err := c.GetProductByUPID(ctx, "brand-1", "UPID-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.EqualValues(t, 2, got.Version)
}

func TestUpsertVariant(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	p := seedProduct(t, c, "brand-1", "UPID-1")

	v := &Variant{BrandID: "brand-1", ProductID: p.ID, SKU: "SKU-1", Color: "Black", Size: "M"}
	require.NoError(t, c.UpsertVariant(ctx, v))

	// Same SKU again updates in place.
	v2 := &Variant{BrandID: "brand-1", ProductID: p.ID, SKU: "SKU-1", Color: "White", Size: "M"}
	require.NoError(t, c.UpsertVariant(ctx, v2))

	variants, err := c.ListVariants(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "White", variants[0].Color)
}

func TestReplaceAttributes(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	p := seedProduct(t, c, "brand-1", "UPID-1")

	require.NoError(t, c.ReplaceAttributes(ctx, p.ID, []Attribute{
		{Name: "material_1_name", Kind: "string", StrVal: "Cotton"},
		{Name: "material_1_percentage", Kind: "float", FloatVal: 80},
	}))
	require.NoError(t, c.ReplaceAttributes(ctx, p.ID, []Attribute{
		{Name: "material_1_name", Kind: "string", StrVal: "Linen"},
	}))

	attrs, err := c.GetAttributes(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, attrs, 1, "replace removes previous set")
	assert.Equal(t, "Linen", attrs[0].StrVal)
}

func TestCountAndListProducts(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	seedProduct(t, c, "brand-1", "UPID-2")
	seedProduct(t, c, "brand-1", "UPID-1")
	seedProduct(t, c, "brand-1", "UPID-3")
	seedProduct(t, c, "brand-2", "UPID-9")

	n, err := c.CountProducts(ctx, "brand-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Stable UPID order makes offset paging deterministic across chunks.
	page, err := c.ListProducts(ctx, "brand-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "UPID-1", page[0].UPID)
	assert.Equal(t, "UPID-2", page[1].UPID)

	page, err = c.ListProducts(ctx, "brand-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "UPID-3", page[0].UPID)
}

func TestSnapshotAndSeedReference(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.SeedReference(ctx, "brand-1", RefCategory, []string{"T-Shirts"}))
	require.NoError(t, c.SeedReference(ctx, "brand-1", RefColor, []string{"Black", "White"}))
	// Seeding again is a no-op, not an error.
	require.NoError(t, c.SeedReference(ctx, "brand-1", RefColor, []string{"Black"}))

	snap, err := c.Snapshot(ctx, "brand-1")
	require.NoError(t, err)
	assert.True(t, snap.HasCategory("T-Shirts"))
	assert.True(t, snap.HasColor("Black"))
	assert.True(t, snap.HasColor("White"))
	assert.False(t, snap.HasColor("Chartreuse"))
	assert.False(t, snap.HasSize("M"))
}
