package rowproc

import (
	"context"
	"fmt"

	"github.com/threadpass/pipeline/pkg/catalog"
	"github.com/threadpass/pipeline/pkg/core"
	"github.com/threadpass/pipeline/pkg/ownership"
)

// updateAttempts bounds optimistic-version retries when another writer
// touches the same product between our read and write.
const updateAttempts = 3

// Product fields guarded by ownership claims. Attributes and each
// variant are claimed as single units.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldCategory    = "category"
	FieldSeason      = "season"
	FieldImage       = "primary_image_url"
	FieldAttributes  = "attributes"
	FieldVariantData = "data"
)

// Processor validates and commits one input row at a time. It holds no
// per-job state, so one instance serves all jobs.
type Processor struct {
	catalog catalog.Catalog
	owners  *ownership.Reconciler
}

// New creates a row processor over the given catalog and reconciler.
func New(cat catalog.Catalog, owners *ownership.Reconciler) *Processor {
	return &Processor{catalog: cat, owners: owners}
}

// Validate runs the schema-level checks for one row with no side
// effects. An empty result means the row would commit cleanly against
// the snapshot.
func (p *Processor) Validate(row core.Row, snap *catalog.Snapshot) []core.RowError {
	n := normalize(row)
	return validate(&n, row, snap)
}

// Commit validates the row again (catalog data may have moved since the
// validation pass) and, if clean, applies a create-or-update. Each
// written field is claimed first; a field owned by a different source is
// skipped and noted while the rest of the row still commits.
//
// A non-nil error is infrastructure trouble (storage down, lost version
// race beyond retries) and is retryable; row-level problems always come
// back inside the outcome.
func (p *Processor) Commit(ctx context.Context, brandID string, src core.Source, row core.Row, snap *catalog.Snapshot) (core.RowOutcome, error) {
	outcome := core.RowOutcome{Index: row.Index}

	n := normalize(row)
	if errs := validate(&n, row, snap); len(errs) > 0 {
		outcome.Kind = core.OutcomeFailed
		outcome.Errors = errs
		return outcome, nil
	}

	existing, err := p.catalog.GetProductByUPID(ctx, brandID, n.UPID)
	if err != nil {
		return outcome, err
	}

	if existing == nil {
		created, err := p.create(ctx, brandID, src, &n, &outcome)
		if err != nil {
			return outcome, err
		}
		existing = created
		outcome.Kind = core.OutcomeCreated
	} else {
		changed, err := p.update(ctx, brandID, src, existing, &n, &outcome)
		if err != nil {
			return outcome, err
		}
		if changed {
			outcome.Kind = core.OutcomeUpdated
		} else {
			outcome.Kind = core.OutcomeSkipped
		}
	}

	if err := p.commitVariant(ctx, brandID, src, existing, &n, &outcome); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// claim wraps the reconciler call, recording a skipped field on refusal.
func (p *Processor) claim(ctx context.Context, brandID, entityType, entityID, field string, src core.Source, outcome *core.RowOutcome) (bool, error) {
	res, err := p.owners.ClaimField(ctx, brandID, entityType, entityID, field, src)
	if err != nil {
		return false, err
	}
	if !res.Granted {
		outcome.SkippedFields = append(outcome.SkippedFields, field)
	}
	return res.Granted, nil
}

func (p *Processor) create(ctx context.Context, brandID string, src core.Source, n *normalizedRow, outcome *core.RowOutcome) (*catalog.Product, error) {
	product := &catalog.Product{
		BrandID:     brandID,
		UPID:        n.UPID,
		GroupKey:    n.UPID,
		GroupSource: string(src),
	}

	for _, fw := range []struct {
		field string
		value string
		dst   *string
	}{
		{FieldName, n.Name, &product.Name},
		{FieldDescription, n.Description, &product.Description},
		{FieldCategory, n.Category, &product.Category},
		{FieldSeason, n.Season, &product.Season},
		{FieldImage, n.Image, &product.PrimaryImageURL},
	} {
		if fw.value == "" {
			continue
		}
		granted, err := p.claim(ctx, brandID, EntityProduct, n.UPID, fw.field, src, outcome)
		if err != nil {
			return nil, err
		}
		if granted {
			*fw.dst = fw.value
		}
	}

	if err := p.catalog.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("create product %s: %w", n.UPID, err)
	}

	if attrs := n.attributes(); len(attrs) > 0 {
		granted, err := p.claim(ctx, brandID, EntityProduct, n.UPID, FieldAttributes, src, outcome)
		if err != nil {
			return nil, err
		}
		if granted {
			if err := p.catalog.ReplaceAttributes(ctx, product.ID, attrs); err != nil {
				return nil, err
			}
		}
	}
	return product, nil
}

func (p *Processor) update(ctx context.Context, brandID string, src core.Source, product *catalog.Product, n *normalizedRow, outcome *core.RowOutcome) (bool, error) {
	type write struct {
		value string
		dst   func(*catalog.Product) *string
	}
	writes := make(map[string]write)
	for _, fw := range []struct {
		field string
		value string
		dst   func(*catalog.Product) *string
	}{
		{FieldName, n.Name, func(p *catalog.Product) *string { return &p.Name }},
		{FieldDescription, n.Description, func(p *catalog.Product) *string { return &p.Description }},
		{FieldCategory, n.Category, func(p *catalog.Product) *string { return &p.Category }},
		{FieldSeason, n.Season, func(p *catalog.Product) *string { return &p.Season }},
		{FieldImage, n.Image, func(p *catalog.Product) *string { return &p.PrimaryImageURL }},
	} {
		if fw.value == "" || *fw.dst(product) == fw.value {
			continue
		}
		granted, err := p.claim(ctx, brandID, EntityProduct, n.UPID, fw.field, src, outcome)
		if err != nil {
			return false, err
		}
		if granted {
			writes[fw.field] = write{value: fw.value, dst: fw.dst}
		}
	}

	changed := false
	if len(writes) > 0 {
		current := product
		for attempt := 0; ; attempt++ {
			for _, w := range writes {
				*w.dst(current) = w.value
			}
			err := p.catalog.UpdateProduct(ctx, current, current.Version)
			if err == nil {
				*product = *current
				changed = true
				break
			}
			if err != core.ErrVersionConflict || attempt+1 >= updateAttempts {
				return false, fmt.Errorf("update product %s: %w", n.UPID, err)
			}
			fresh, err := p.catalog.GetProductByUPID(ctx, brandID, n.UPID)
			if err != nil {
				return false, err
			}
			if fresh == nil {
				return false, fmt.Errorf("update product %s: %w", n.UPID, core.ErrVersionConflict)
			}
			current = fresh
		}
	}

	if attrs := n.attributes(); len(attrs) > 0 {
		granted, err := p.claim(ctx, brandID, EntityProduct, n.UPID, FieldAttributes, src, outcome)
		if err != nil {
			return changed, err
		}
		if granted {
			if err := p.catalog.ReplaceAttributes(ctx, product.ID, attrs); err != nil {
				return changed, err
			}
			changed = true
		}
	}
	return changed, nil
}

func (p *Processor) commitVariant(ctx context.Context, brandID string, src core.Source, product *catalog.Product, n *normalizedRow, outcome *core.RowOutcome) error {
	if n.SKU == "" {
		return nil
	}
	granted, err := p.claim(ctx, brandID, EntityVariant, n.SKU, FieldVariantData, src, outcome)
	if err != nil {
		return err
	}
	if !granted {
		return nil
	}
	return p.catalog.UpsertVariant(ctx, &catalog.Variant{
		BrandID:   brandID,
		ProductID: product.ID,
		SKU:       n.SKU,
		Color:     n.Color,
		Size:      n.Size,
		ImageURL:  n.VariantImage,
	})
}
