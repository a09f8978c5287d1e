package models

import (
	"github.com/shopspring/decimal"
)

// StockStatus is the remote platform's stock availability flag
type StockStatus string

const (
	StockInStock    StockStatus = "instock"
	StockOutOfStock StockStatus = "outofstock"
)

// ProductStatus is the remote platform's publication lifecycle
type ProductStatus string

const (
	ProductDraft   ProductStatus = "draft"
	ProductPending ProductStatus = "pending"
	ProductPrivate ProductStatus = "private"
	ProductPublish ProductStatus = "publish"
)

// PricePrecision is the number of decimal places prices are rounded to
const PricePrecision = 4

// regularPriceMarkup is applied to the source price of items that are not on sale
var regularPriceMarkup = decimal.RequireFromString("1.2")

// ProductImage references a media item attached to a remote product
type ProductImage struct {
	ID  int64  `json:"id"`
	Src string `json:"src"`
}

// Product is a catalog item in transit between the source catalog and the remote platform.
// RemoteID is zero until the remote platform has created the product.
type Product struct {
	RemoteID          int64               `json:"remoteId,omitempty"`
	SKU               string              `json:"sku"`
	Name              string              `json:"name"`
	Price             decimal.Decimal     `json:"price"`
	RegularPrice      decimal.Decimal     `json:"regularPrice"`
	SalePrice         decimal.NullDecimal `json:"salePrice"`
	StockQuantity     int                 `json:"stockQuantity"`
	StockStatus       StockStatus         `json:"stockStatus"`
	Status            ProductStatus       `json:"status,omitempty"`
	ManageStock       bool                `json:"manageStock"`
	BackordersAllowed bool                `json:"backordersAllowed"`
	Images            []ProductImage      `json:"images,omitempty"`
}

// HasRemoteID reports whether the remote platform has assigned an id
func (p Product) HasRemoteID() bool {
	return p.RemoteID > 0
}

// OnSale reports whether the product carries a sale price
func (p Product) OnSale() bool {
	return p.SalePrice.Valid
}

// StockStatusFor derives the stock status from a quantity
func StockStatusFor(quantity int) StockStatus {
	if quantity > 0 {
		return StockInStock
	}
	return StockOutOfStock
}

// RegularPriceFor derives the regular price from the source price.
// Items on sale already hold the discounted price and get no markup.
func RegularPriceFor(price decimal.Decimal, onSale bool) decimal.Decimal {
	if onSale {
		return price
	}
	return price.Mul(regularPriceMarkup).Round(PricePrecision)
}

// NewSourceProduct builds a product from a source catalog row, deriving the
// regular price, sale price and stock status. Negative stock is clamped to zero.
func NewSourceProduct(sku, name string, price decimal.Decimal, stock int, onSale bool) Product {
	if stock < 0 {
		stock = 0
	}

	product := Product{
		SKU:           sku,
		Name:          name,
		Price:         price,
		RegularPrice:  RegularPriceFor(price, onSale),
		StockQuantity: stock,
		StockStatus:   StockStatusFor(stock),
	}
	if onSale {
		product.SalePrice = decimal.NewNullDecimal(price)
	}
	return product
}

// Clone returns a copy that shares no slices with p
func (p Product) Clone() Product {
	c := p
	if p.Images != nil {
		c.Images = make([]ProductImage, len(p.Images))
		copy(c.Images, p.Images)
	}
	return c
}
