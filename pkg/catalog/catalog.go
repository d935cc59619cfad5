// Package catalog defines the product catalog contract the pipeline
// writes against, plus a GORM reference implementation. Entities carry a
// version stamp so concurrent writers are detected instead of silently
// overwriting each other.
package catalog

import (
	"context"
	"time"
)

// Product is one logical product in a brand's catalog.
type Product struct {
	ID      string `gorm:"primaryKey;size:36"`
	BrandID string `gorm:"uniqueIndex:idx_products_brand_upid,priority:1;size:36;not null"`

	// UPID is the brand-unique product identifier rows are keyed by.
	UPID string `gorm:"column:upid;uniqueIndex:idx_products_brand_upid,priority:2;size:64;not null"`

	Name            string `gorm:"size:255"`
	Description     string `gorm:"type:text"`
	Category        string `gorm:"size:128"`
	Season          string `gorm:"size:64"`
	PrimaryImageURL string `gorm:"size:512"`

	// GroupKey is the grouping key deciding which rows belong to this
	// logical product; GroupSource names the source whose structure the
	// grouping follows. Promotion re-derives both.
	GroupKey    string `gorm:"index;size:128"`
	GroupSource string `gorm:"size:128"`

	// Version is bumped on every successful update; writers supply the
	// version they read and lose on mismatch.
	Version int64 `gorm:"default:1"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Variant is one sellable variation of a product (color/size).
type Variant struct {
	ID        string `gorm:"primaryKey;size:36"`
	BrandID   string `gorm:"uniqueIndex:idx_variants_brand_sku,priority:1;size:36;not null"`
	ProductID string `gorm:"index;size:36;not null"`

	SKU      string `gorm:"uniqueIndex:idx_variants_brand_sku,priority:2;size:64;not null"`
	Color    string `gorm:"size:64"`
	Size     string `gorm:"size:32"`
	ImageURL string `gorm:"size:512"`

	Version   int64     `gorm:"default:1"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Attribute is one typed opaque attribute attached to a product
// (material composition, care codes, eco claims). Values are stored in
// the column matching their kind.
type Attribute struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ProductID string `gorm:"uniqueIndex:idx_attrs_product_name,priority:1;size:36;not null"`
	Name      string `gorm:"uniqueIndex:idx_attrs_product_name,priority:2;size:128;not null"`

	Kind     string  `gorm:"size:10;not null"`
	StrVal   string  `gorm:"size:512"`
	IntVal   int64   `gorm:"default:0"`
	FloatVal float64 `gorm:"default:0"`
	BoolVal  bool    `gorm:"default:false"`
}

// ReferenceValue is one entry of brand reference data (categories,
// colors, sizes) that imported rows must resolve against.
type ReferenceValue struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	BrandID string `gorm:"uniqueIndex:idx_refs,priority:1;size:36;not null"`
	Kind    string `gorm:"uniqueIndex:idx_refs,priority:2;size:20;not null"`
	Value   string `gorm:"uniqueIndex:idx_refs,priority:3;size:128;not null"`
}

// Reference data kinds.
const (
	RefCategory = "category"
	RefColor    = "color"
	RefSize     = "size"
)

// Snapshot is the read-only slice of a brand's reference data a job
// validates rows against. Taken once per phase; commit re-checks against
// a fresh snapshot because catalog data may have moved since validation.
type Snapshot struct {
	BrandID    string
	Categories map[string]struct{}
	Colors     map[string]struct{}
	Sizes      map[string]struct{}
}

// HasCategory reports whether the category exists in the brand catalog.
func (s *Snapshot) HasCategory(name string) bool {
	_, ok := s.Categories[name]
	return ok
}

// HasColor reports whether the color exists in the brand catalog.
func (s *Snapshot) HasColor(name string) bool {
	_, ok := s.Colors[name]
	return ok
}

// HasSize reports whether the size exists in the brand catalog.
func (s *Snapshot) HasSize(name string) bool {
	_, ok := s.Sizes[name]
	return ok
}

// Catalog is the storage contract for product entities, scoped by brand.
type Catalog interface {
	Migrate(ctx context.Context) error

	Snapshot(ctx context.Context, brandID string) (*Snapshot, error)

	GetProductByUPID(ctx context.Context, brandID, upid string) (*Product, error)
	CreateProduct(ctx context.Context, p *Product) error

	// UpdateProduct persists p if its stored version still matches
	// expectedVersion; returns core.ErrVersionConflict otherwise.
	UpdateProduct(ctx context.Context, p *Product, expectedVersion int64) error

	UpsertVariant(ctx context.Context, v *Variant) error
	ReplaceAttributes(ctx context.Context, productID string, attrs []Attribute) error
	GetAttributes(ctx context.Context, productID string) ([]Attribute, error)

	CountProducts(ctx context.Context, brandID string) (int, error)
	ListProducts(ctx context.Context, brandID string, offset, limit int) ([]*Product, error)
	ListVariants(ctx context.Context, productID string) ([]*Variant, error)

	SeedReference(ctx context.Context, brandID, kind string, values []string) error
}
