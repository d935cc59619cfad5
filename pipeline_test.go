package pipeline_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	pipeline "github.com/threadpass/pipeline"
	"github.com/threadpass/pipeline/pkg/catalog"
)

// TestFacade_ImportFlow drives a full import through the facade exactly
// the way an embedding service would.
func TestFacade_ImportFlow(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	ctx := context.Background()

	store := pipeline.NewStore(db)
	require.NoError(t, store.Migrate(ctx))
	cat := pipeline.NewCatalog(db)
	require.NoError(t, cat.Migrate(ctx))
	require.NoError(t, cat.SeedReference(ctx, "brand-1", catalog.RefCategory, []string{"T-Shirts"}))

	orch := pipeline.NewOrchestrator(store, cat, pipeline.NewReconciler(store), pipeline.NewHub())

	rows := make([]map[string]string, 10)
	for i := range rows {
		rows[i] = map[string]string{
			"product_name":  fmt.Sprintf("Product %d", i+1),
			"upid":          fmt.Sprintf("UPID-%02d", i+1),
			"category_name": "T-Shirts",
		}
	}

	job, err := orch.Submit(ctx, pipeline.SubmitRequest{
		BrandID:      "brand-1",
		Kind:         pipeline.KindImport,
		ActingSource: pipeline.SourceManual,
		Rows:         pipeline.FromRows(rows),
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPending, job.Status)

	drive := func() {
		for {
			leased, err := store.NextRunnable(ctx, "facade-worker")
			require.NoError(t, err)
			if leased == nil {
				return
			}
			orch.Advance(ctx, leased, "facade-worker")
		}
	}

	drive()
	got, failures, err := orch.Status(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusValidated, got.Status)
	assert.Empty(t, failures)

	require.NoError(t, orch.Approve(ctx, "brand-1", job.ID))
	drive()

	got, _, err = orch.Status(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, 10, got.Created)

	n, err := cat.CountProducts(ctx, "brand-1")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestFacade_ErrorsAndLimits(t *testing.T) {
	assert.Error(t, pipeline.ValidateBrandID("no spaces allowed"))
	assert.NoError(t, pipeline.ValidateBrandID("brand-1"))

	_, ok := pipeline.IntegrationSource("shopify-1").Integration()
	assert.True(t, ok)

	assert.Positive(t, pipeline.MaxChunkSize)
	assert.NotNil(t, pipeline.ErrEmptySource)
}
