package models

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// PatchField names a product field carried by an update
type PatchField string

const (
	FieldStockQuantity PatchField = "stockQuantity"
	FieldStockStatus   PatchField = "stockStatus"
	FieldRegularPrice  PatchField = "regularPrice"
	FieldPrice         PatchField = "price"
	FieldSalePrice     PatchField = "salePrice"
	FieldImages        PatchField = "images"
)

// ProductPatch is a partial update of a remote product. Only the fields
// recorded in the changed set are sent to the remote platform.
type ProductPatch struct {
	RemoteID int64
	SKU      string

	StockQuantity int
	StockStatus   StockStatus
	RegularPrice  decimal.Decimal
	Price         decimal.Decimal
	SalePrice     decimal.NullDecimal
	Images        []ProductImage

	changed map[PatchField]struct{}
}

// NewProductPatch starts an empty patch for a remote product
func NewProductPatch(remoteID int64, sku string) ProductPatch {
	return ProductPatch{RemoteID: remoteID, SKU: sku}
}

func (p *ProductPatch) mark(fields ...PatchField) {
	if p.changed == nil {
		p.changed = make(map[PatchField]struct{}, len(fields))
	}
	for _, f := range fields {
		p.changed[f] = struct{}{}
	}
}

// SetStock records a stock change; the status is derived from the quantity
func (p *ProductPatch) SetStock(quantity int) {
	p.StockQuantity = quantity
	p.StockStatus = StockStatusFor(quantity)
	p.mark(FieldStockQuantity, FieldStockStatus)
}

// SetPrices records a price change; all three price fields travel together
func (p *ProductPatch) SetPrices(regular, price decimal.Decimal, sale decimal.NullDecimal) {
	p.RegularPrice = regular
	p.Price = price
	p.SalePrice = sale
	p.mark(FieldRegularPrice, FieldPrice, FieldSalePrice)
}

// SetImages records the image list
func (p *ProductPatch) SetImages(images []ProductImage) {
	p.Images = append([]ProductImage(nil), images...)
	p.mark(FieldImages)
}

// Has reports whether a field is part of the patch
func (p ProductPatch) Has(field PatchField) bool {
	_, ok := p.changed[field]
	return ok
}

// Fields returns the changed fields in a stable order
func (p ProductPatch) Fields() []PatchField {
	fields := make([]PatchField, 0, len(p.changed))
	for f := range p.changed {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// IsEmpty reports whether the patch changes nothing
func (p ProductPatch) IsEmpty() bool {
	return len(p.changed) == 0
}

// MarshalJSON emits the remote id, sku and the changed fields only. This is
// the encoding stored in cycle journal lines; the store client builds its
// own request payload and does not use it.
func (p ProductPatch) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"remoteId": p.RemoteID,
	}
	if p.SKU != "" {
		out["sku"] = p.SKU
	}
	for _, f := range p.Fields() {
		switch f {
		case FieldStockQuantity:
			out[string(f)] = p.StockQuantity
		case FieldStockStatus:
			out[string(f)] = p.StockStatus
		case FieldRegularPrice:
			out[string(f)] = p.RegularPrice
		case FieldPrice:
			out[string(f)] = p.Price
		case FieldSalePrice:
			out[string(f)] = p.SalePrice
		case FieldImages:
			out[string(f)] = p.Images
		}
	}
	return json.Marshal(out)
}

// Batch is one cycle's set of remote writes
type Batch struct {
	Create []Product      `json:"create"`
	Update []ProductPatch `json:"update"`
}

// IsEmpty reports whether the batch has nothing to write
func (b Batch) IsEmpty() bool {
	return len(b.Create) == 0 && len(b.Update) == 0
}

// RejectedItem is a batch entry the remote platform refused individually
type RejectedItem struct {
	SKU      string `json:"sku,omitempty"`
	RemoteID int64  `json:"remoteId,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// BatchResult holds the records the remote platform confirmed
type BatchResult struct {
	Created  []Product      `json:"created"`
	Updated  []Product      `json:"updated"`
	Rejected []RejectedItem `json:"rejected,omitempty"`
}

// Append adds another result to this one, preserving order
func (r *BatchResult) Append(other BatchResult) {
	r.Created = append(r.Created, other.Created...)
	r.Updated = append(r.Updated, other.Updated...)
	r.Rejected = append(r.Rejected, other.Rejected...)
}

// MediaRef identifies an uploaded media item on the media host
type MediaRef struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}
