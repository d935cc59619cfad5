package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threadpass/pipeline/pkg/core"
)

// GormCatalog implements Catalog using GORM.
type GormCatalog struct {
	db *gorm.DB
}

// NewGormCatalog creates a GORM-backed catalog.
func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

// DB exposes the underlying handle for callers sharing the connection.
func (c *GormCatalog) DB() *gorm.DB { return c.db }

// Migrate creates the catalog tables.
func (c *GormCatalog) Migrate(ctx context.Context) error {
	return c.db.WithContext(ctx).AutoMigrate(
		&Product{}, &Variant{}, &Attribute{}, &ReferenceValue{},
	)
}

// Snapshot loads the brand's reference data for row validation.
func (c *GormCatalog) Snapshot(ctx context.Context, brandID string) (*Snapshot, error) {
	var refs []ReferenceValue
	err := c.db.WithContext(ctx).
		Where("brand_id = ?", brandID).
		Find(&refs).Error
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		BrandID:    brandID,
		Categories: make(map[string]struct{}),
		Colors:     make(map[string]struct{}),
		Sizes:      make(map[string]struct{}),
	}
	for _, r := range refs {
		switch r.Kind {
		case RefCategory:
			snap.Categories[r.Value] = struct{}{}
		case RefColor:
			snap.Colors[r.Value] = struct{}{}
		case RefSize:
			snap.Sizes[r.Value] = struct{}{}
		}
	}
	return snap, nil
}

// GetProductByUPID returns the product, or nil if it does not exist.
func (c *GormCatalog) GetProductByUPID(ctx context.Context, brandID, upid string) (*Product, error) {
	var p Product
	err := c.db.WithContext(ctx).
		Where("brand_id = ? AND upid = ?", brandID, upid).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct inserts a new product.
func (c *GormCatalog) CreateProduct(ctx context.Context, p *Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return c.db.WithContext(ctx).Create(p).Error
}

// UpdateProduct saves the product under optimistic versioning. A writer
// that read version N only wins if the row is still at N.
func (c *GormCatalog) UpdateProduct(ctx context.Context, p *Product, expectedVersion int64) error {
	p.Version = expectedVersion + 1
	result := c.db.WithContext(ctx).
		Model(&Product{}).
		Where("id = ? AND version = ?", p.ID, expectedVersion).
		Updates(map[string]any{
			"name":              p.Name,
			"description":       p.Description,
			"category":          p.Category,
			"season":            p.Season,
			"primary_image_url": p.PrimaryImageURL,
			"group_key":         p.GroupKey,
			"group_source":      p.GroupSource,
			"version":           p.Version,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrVersionConflict
	}
	return nil
}

// UpsertVariant creates or updates a variant keyed by (brand, SKU).
func (c *GormCatalog) UpsertVariant(ctx context.Context, v *Variant) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Version == 0 {
		v.Version = 1
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "brand_id"}, {Name: "sku"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"product_id", "color", "size", "image_url", "updated_at",
			}),
		}).
		Create(v).Error
}

// ReplaceAttributes swaps a product's attribute set atomically.
func (c *GormCatalog) ReplaceAttributes(ctx context.Context, productID string, attrs []Attribute) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", productID).Delete(&Attribute{}).Error; err != nil {
			return err
		}
		if len(attrs) == 0 {
			return nil
		}
		for i := range attrs {
			attrs[i].ProductID = productID
		}
		return tx.Create(&attrs).Error
	})
}

// GetAttributes returns a product's attributes.
func (c *GormCatalog) GetAttributes(ctx context.Context, productID string) ([]Attribute, error) {
	var attrs []Attribute
	err := c.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("name ASC").
		Find(&attrs).Error
	return attrs, err
}

// CountProducts returns how many products the brand has.
func (c *GormCatalog) CountProducts(ctx context.Context, brandID string) (int, error) {
	var n int64
	err := c.db.WithContext(ctx).
		Model(&Product{}).
		Where("brand_id = ?", brandID).
		Count(&n).Error
	return int(n), err
}

// ListProducts pages through a brand's products in stable UPID order, so
// a resumed promotion walks the same sequence.
func (c *GormCatalog) ListProducts(ctx context.Context, brandID string, offset, limit int) ([]*Product, error) {
	var products []*Product
	err := c.db.WithContext(ctx).
		Where("brand_id = ?", brandID).
		Order("upid ASC").
		Offset(offset).
		Limit(limit).
		Find(&products).Error
	return products, err
}

// ListVariants returns a product's variants.
func (c *GormCatalog) ListVariants(ctx context.Context, productID string) ([]*Variant, error) {
	var variants []*Variant
	err := c.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("sku ASC").
		Find(&variants).Error
	return variants, err
}

// SeedReference inserts brand reference values, ignoring duplicates.
func (c *GormCatalog) SeedReference(ctx context.Context, brandID, kind string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	refs := make([]ReferenceValue, 0, len(values))
	for _, v := range values {
		refs = append(refs, ReferenceValue{BrandID: brandID, Kind: kind, Value: v})
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&refs).Error
}
