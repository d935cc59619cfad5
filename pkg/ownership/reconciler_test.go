package ownership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/threadpass/pipeline/pkg/core"
	"github.com/threadpass/pipeline/pkg/storage"
)

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.New(db)
	require.NoError(t, store.Migrate(context.Background()))
	return New(store)
}

var (
	manual  = core.SourceManual
	shopify = core.IntegrationSource("shopify-1")
	sap     = core.IntegrationSource("sap-2")
)

func TestClaimField_FirstWriterOwns(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	res, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, shopify, res.Owner)
}

func TestClaimField_SameOwnerRefreshes(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	require.NoError(t, err)

	res, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, shopify, res.Owner)

	conflicts, err := r.ListConflicts(ctx, "brand-1")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestClaimField_DifferentSourceRaisesConflict(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", manual)
	require.NoError(t, err)

	res, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	require.NoError(t, err)
	assert.False(t, res.Granted, "non-owner write must not be granted")
	assert.Equal(t, manual, res.Owner, "owner unchanged")

	conflicts, err := r.ListConflicts(ctx, "brand-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "name", conflicts[0].FieldName)
	assert.Equal(t, manual, conflicts[0].Owner)
	assert.Equal(t, shopify, conflicts[0].ConflictWith)
}

func TestClaimField_IndependentFields(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", manual)
	require.NoError(t, err)

	// The same source still owns other fields of the same entity.
	res, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "description", shopify)
	require.NoError(t, err)
	assert.True(t, res.Granted)
}

func TestResolveConflict(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", manual)
	require.NoError(t, err)
	_, err = r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	require.NoError(t, err)

	require.NoError(t, r.ResolveConflict(ctx, "brand-1", "product", "UPID-1", "name", shopify))

	conflicts, err := r.ListConflicts(ctx, "brand-1")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// The chosen source now owns the field.
	res, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	require.NoError(t, err)
	assert.True(t, res.Granted)
}

func TestResolveConflict_NoRecord(t *testing.T) {
	r := newTestReconciler(t)
	err := r.ResolveConflict(context.Background(), "brand-1", "product", "UPID-1", "name", manual)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestResolveConflict_NotConflicted(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", manual)
	require.NoError(t, err)

	err = r.ResolveConflict(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	assert.ErrorIs(t, err, core.ErrNoConflict)
}

func TestNeedsPromotion(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", sap)
	require.NoError(t, err)
	_, err = r.ClaimField(ctx, "brand-1", "product", "UPID-1", "description", manual)
	require.NoError(t, err)

	needs, err := r.NeedsPromotion(ctx, "brand-1", "product", "UPID-1", shopify)
	require.NoError(t, err)
	assert.True(t, needs, "sap-owned field needs reassignment")

	needs, err = r.NeedsPromotion(ctx, "brand-1", "product", "UPID-1", sap)
	require.NoError(t, err)
	assert.False(t, needs, "already owned by the new primary")
}

func TestNeedsPromotion_ManualOnly(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", manual)
	require.NoError(t, err)

	needs, err := r.NeedsPromotion(ctx, "brand-1", "product", "UPID-1", shopify)
	require.NoError(t, err)
	assert.False(t, needs, "manual fields never promote")
}

func TestPromoteEntity(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", sap)
	require.NoError(t, err)
	_, err = r.ClaimField(ctx, "brand-1", "product", "UPID-1", "description", manual)
	require.NoError(t, err)
	// Conflict raised by the old primary gets cleared by the promotion.
	_, err = r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	require.NoError(t, err)

	changed, err := r.PromoteEntity(ctx, "brand-1", "product", "UPID-1", shopify)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	// Shopify now owns the integration field; manual stays manual.
	res, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	require.NoError(t, err)
	assert.True(t, res.Granted)

	res, err = r.ClaimField(ctx, "brand-1", "product", "UPID-1", "description", shopify)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, manual, res.Owner)

	conflicts, err := r.ListConflicts(ctx, "brand-1")
	require.NoError(t, err)
	assert.Len(t, conflicts, 1, "only the fresh conflict on description remains")
}

func TestPromoteEntity_Idempotent(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", sap)
	require.NoError(t, err)

	changed, err := r.PromoteEntity(ctx, "brand-1", "product", "UPID-1", shopify)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	changed, err = r.PromoteEntity(ctx, "brand-1", "product", "UPID-1", shopify)
	require.NoError(t, err)
	assert.Zero(t, changed, "second promotion changes nothing")
}

func TestDropEntity(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", shopify)
	require.NoError(t, err)

	require.NoError(t, r.DropEntity(ctx, "brand-1", "product", "UPID-1"))

	// First writer wins again after the records are gone.
	res, err := r.ClaimField(ctx, "brand-1", "product", "UPID-1", "name", manual)
	require.NoError(t, err)
	assert.True(t, res.Granted)
}
