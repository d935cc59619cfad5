// Package rowproc turns raw source rows into validated catalog writes.
// Validation is side-effect free; commit applies create-or-update under
// field-ownership claims, skipping conflicting fields instead of
// discarding otherwise-valid rows.
package rowproc

import (
	"fmt"
	"strings"

	"github.com/threadpass/pipeline/pkg/catalog"
	"github.com/threadpass/pipeline/pkg/core"
)

// Entity types used in field-ownership records.
const (
	EntityProduct = "product"
	EntityVariant = "variant"
)

// Source row columns. The column vocabulary follows the spreadsheet
// template brands upload against.
const (
	ColProductName   = "product_name"
	ColUPID          = "upid"
	ColSKU           = "sku"
	ColDescription   = "description"
	ColCategory      = "category_name"
	ColSeason        = "season"
	ColPrimaryImage  = "primary_image_url"
	ColColor         = "color_name"
	ColSize          = "size_name"
	ColVariantImage  = "product_image_url"
	ColCareCodes     = "care_codes"
	ColEcoClaims     = "eco_claims"
	colMaterialName  = "material_%d_name"
	colMaterialShare = "material_%d_percentage"
)

// maxMaterials is how many material composition slots the template has.
const maxMaterials = 3

// Field length limits, matching the catalog column sizes.
const (
	maxNameLen  = 255
	maxUPIDLen  = 64
	maxSKULen   = 64
	maxDescLen  = 5000
	maxURLLen   = 512
	maxValueLen = 512
)

type materialShare struct {
	Name    string
	Percent float64
}

// normalizedRow is a row after trimming and typed parsing, ready to be
// validated and committed.
type normalizedRow struct {
	UPID        string
	SKU         string
	Name        string
	Description string
	Category    string
	Season      string
	Image       string

	Color        string
	Size         string
	VariantImage string

	Materials []materialShare
	CareCodes []string
	EcoClaims []string
}

func (n *normalizedRow) hasVariant() bool {
	return n.SKU != "" || n.Color != "" || n.Size != "" || n.VariantImage != ""
}

func normalize(row core.Row) normalizedRow {
	get := func(col string) string { return strings.TrimSpace(row.Get(col)) }

	n := normalizedRow{
		UPID:         get(ColUPID),
		SKU:          get(ColSKU),
		Name:         get(ColProductName),
		Description:  get(ColDescription),
		Category:     get(ColCategory),
		Season:       get(ColSeason),
		Image:        get(ColPrimaryImage),
		Color:        get(ColColor),
		Size:         get(ColSize),
		VariantImage: get(ColVariantImage),
	}
	n.CareCodes = splitList(get(ColCareCodes))
	n.EcoClaims = splitList(get(ColEcoClaims))
	return n
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// validate performs the schema-level checks: required fields, types,
// lengths, cross-field consistency, and referenced-entity existence
// against the brand catalog snapshot. Material parsing results land in
// n.Materials as a side product, so commit reuses them.
func validate(n *normalizedRow, row core.Row, snap *catalog.Snapshot) []core.RowError {
	var errs []core.RowError
	add := func(col, msg string, kind core.FailureKind) {
		errs = append(errs, core.RowError{Column: col, Message: msg, Kind: kind})
	}

	if n.Name == "" {
		add(ColProductName, "product name is required", core.FailureMissingField)
	} else if len(n.Name) > maxNameLen {
		add(ColProductName, fmt.Sprintf("product name exceeds %d characters", maxNameLen), core.FailureTooLong)
	}

	if n.UPID == "" {
		add(ColUPID, "upid is required", core.FailureMissingField)
	} else if len(n.UPID) > maxUPIDLen {
		add(ColUPID, fmt.Sprintf("upid exceeds %d characters", maxUPIDLen), core.FailureTooLong)
	}

	if len(n.SKU) > maxSKULen {
		add(ColSKU, fmt.Sprintf("sku exceeds %d characters", maxSKULen), core.FailureTooLong)
	}
	if n.hasVariant() && n.SKU == "" {
		add(ColSKU, "sku is required when variant columns are set", core.FailureMissingField)
	}

	if len(n.Description) > maxDescLen {
		add(ColDescription, fmt.Sprintf("description exceeds %d characters", maxDescLen), core.FailureTooLong)
	}

	if n.Category != "" && !snap.HasCategory(n.Category) {
		add(ColCategory, fmt.Sprintf("unknown category %q", n.Category), core.FailureUnknownReference)
	}
	if n.Color != "" && !snap.HasColor(n.Color) {
		add(ColColor, fmt.Sprintf("unknown color %q", n.Color), core.FailureUnknownReference)
	}
	if n.Size != "" && !snap.HasSize(n.Size) {
		add(ColSize, fmt.Sprintf("unknown size %q", n.Size), core.FailureUnknownReference)
	}

	for _, col := range []struct{ name, val string }{
		{ColPrimaryImage, n.Image},
		{ColVariantImage, n.VariantImage},
	} {
		if col.val == "" {
			continue
		}
		if len(col.val) > maxURLLen {
			add(col.name, fmt.Sprintf("url exceeds %d characters", maxURLLen), core.FailureTooLong)
		} else if !strings.HasPrefix(col.val, "http://") && !strings.HasPrefix(col.val, "https://") {
			add(col.name, "url must start with http:// or https://", core.FailureBadType)
		}
	}

	n.Materials = n.Materials[:0]
	total := 0.0
	for i := 1; i <= maxMaterials; i++ {
		nameCol := fmt.Sprintf(colMaterialName, i)
		shareCol := fmt.Sprintf(colMaterialShare, i)
		name := strings.TrimSpace(row.Get(nameCol))
		share := strings.TrimSpace(row.Get(shareCol))

		if name == "" && share == "" {
			continue
		}
		if name == "" {
			add(nameCol, "material name missing for percentage", core.FailureMissingField)
			continue
		}
		if share == "" {
			add(shareCol, fmt.Sprintf("percentage missing for material %q", name), core.FailureMissingField)
			continue
		}
		v, err := core.ParseValue(core.KindFloat, share)
		if err != nil {
			add(shareCol, err.Error(), core.FailureBadType)
			continue
		}
		if v.Float < 0 || v.Float > 100 {
			add(shareCol, fmt.Sprintf("percentage %v out of range 0-100", v.Float), core.FailureBadType)
			continue
		}
		total += v.Float
		n.Materials = append(n.Materials, materialShare{Name: name, Percent: v.Float})
	}
	if total > 100 {
		add(fmt.Sprintf(colMaterialShare, 1), fmt.Sprintf("material percentages sum to %v, exceeding 100", total), core.FailureBadType)
	}

	for _, list := range []struct {
		col  string
		vals []string
	}{
		{ColCareCodes, n.CareCodes},
		{ColEcoClaims, n.EcoClaims},
	} {
		for _, v := range list.vals {
			if len(v) > maxValueLen {
				add(list.col, fmt.Sprintf("value exceeds %d characters", maxValueLen), core.FailureTooLong)
				break
			}
		}
	}

	return errs
}

// attributes flattens the row's typed opaque attributes into catalog
// attribute records.
func (n *normalizedRow) attributes() []catalog.Attribute {
	var attrs []catalog.Attribute
	for i, m := range n.Materials {
		attrs = append(attrs,
			catalog.Attribute{
				Name: fmt.Sprintf(colMaterialName, i+1),
				Kind: string(core.KindString), StrVal: m.Name,
			},
			catalog.Attribute{
				Name: fmt.Sprintf(colMaterialShare, i+1),
				Kind: string(core.KindFloat), FloatVal: m.Percent,
			},
		)
	}
	if len(n.CareCodes) > 0 {
		attrs = append(attrs, catalog.Attribute{
			Name: ColCareCodes,
			Kind: string(core.KindString), StrVal: strings.Join(n.CareCodes, ","),
		})
	}
	if len(n.EcoClaims) > 0 {
		attrs = append(attrs, catalog.Attribute{
			Name: ColEcoClaims,
			Kind: string(core.KindString), StrVal: strings.Join(n.EcoClaims, ","),
		})
	}
	return attrs
}
