package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/report"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SourceReader is the read-only view of the authoritative catalog
type SourceReader interface {
	// FetchAllProducts reports rows it has to leave out through r
	FetchAllProducts(ctx context.Context, r report.Reporter) ([]models.Product, error)
	FetchImages(ctx context.Context, sku string) ([][]byte, error)
	Ping(ctx context.Context) error
}

// SourceSchema names the tables the catalog is read from
type SourceSchema struct {
	ProductTable string
	ImageTable   string
}

// DefaultSourceSchema returns the default table names
func DefaultSourceSchema() SourceSchema {
	return SourceSchema{
		ProductTable: "catalog_products",
		ImageTable:   "catalog_product_images",
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate rejects table names that are not plain identifiers
func (s SourceSchema) Validate() error {
	for _, name := range []string{s.ProductTable, s.ImageTable} {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// sourceRow is one catalog row. Every column is nullable in the source.
type sourceRow struct {
	SKU    sql.NullString      `gorm:"column:sku"`
	Name   sql.NullString      `gorm:"column:name"`
	Price  decimal.NullDecimal `gorm:"column:price"`
	Stock  sql.NullInt64       `gorm:"column:stock"`
	OnSale sql.NullBool        `gorm:"column:on_sale"`
}

type imageRow struct {
	Data []byte `gorm:"column:data"`
}

// SourceRepository reads the catalog from a relational database
type SourceRepository struct {
	db     *gorm.DB
	schema SourceSchema
}

var _ SourceReader = (*SourceRepository)(nil)

// NewSourceRepository creates a new source repository
func NewSourceRepository(db *gorm.DB, schema SourceSchema) (*SourceRepository, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &SourceRepository{db: db, schema: schema}, nil
}

// Ping checks the source database is reachable and the catalog table readable
func (r *SourceRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Table(r.schema.ProductTable).Select("sku").Limit(0).Find(&[]sourceRow{}).Error
}

// FetchAllProducts returns every web-visible catalog row ordered by sku.
// Rows with a NULL column are reported to rep and left out.
func (r *SourceRepository) FetchAllProducts(ctx context.Context, rep report.Reporter) ([]models.Product, error) {
	if rep == nil {
		rep = report.Nop
	}

	var rows []sourceRow
	if err := productsQuery(r.db.WithContext(ctx), r.schema).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query source catalog: %w", err)
	}

	products := make([]models.Product, 0, len(rows))
	for _, row := range rows {
		product, err := row.toProduct()
		if err != nil {
			report.Fault(rep, err, nil)
			continue
		}
		products = append(products, product)
	}
	return products, nil
}

// FetchImages returns the raw image blobs for a sku in display order
func (r *SourceRepository) FetchImages(ctx context.Context, sku string) ([][]byte, error) {
	var rows []imageRow
	if err := imagesQuery(r.db.WithContext(ctx), r.schema, sku).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query images for %s: %w", sku, err)
	}

	images := make([][]byte, 0, len(rows))
	for _, row := range rows {
		if len(row.Data) > 0 {
			images = append(images, row.Data)
		}
	}
	return images, nil
}

func productsQuery(tx *gorm.DB, schema SourceSchema) *gorm.DB {
	return tx.Table(schema.ProductTable).
		Select("sku, name, price, stock, on_sale").
		Where("web_visible = ?", true).
		Order("sku")
}

func imagesQuery(tx *gorm.DB, schema SourceSchema, sku string) *gorm.DB {
	return tx.Table(schema.ImageTable).
		Select("data").
		Where("sku = ? AND data IS NOT NULL", sku).
		Order("position, id")
}

func (row sourceRow) toProduct() (models.Product, error) {
	sku := ""
	if row.SKU.Valid {
		sku = row.SKU.String
	}

	var missing string
	switch {
	case !row.SKU.Valid:
		missing = "sku"
	case !row.Name.Valid:
		missing = "name"
	case !row.Price.Valid:
		missing = "price"
	case !row.Stock.Valid:
		missing = "stock"
	case !row.OnSale.Valid:
		missing = "on_sale"
	}
	if missing != "" {
		return models.Product{}, &report.SkippableRowError{SKU: sku, Reason: "NULL " + missing}
	}

	return models.NewSourceProduct(sku, row.Name.String, row.Price.Decimal, int(row.Stock.Int64), row.OnSale.Bool), nil
}
