package services

import (
	"fmt"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/report"
)

// Diff compares the source rows against the cached remote catalog and
// returns the writes needed to bring the remote in line. It reads nothing
// but its arguments; output order follows the source rows.
func Diff(rows []models.Product, cache CacheView, r report.Reporter) models.Batch {
	if r == nil {
		r = report.Nop
	}

	var batch models.Batch
	seen := make(map[string]struct{}, len(rows))

	for _, src := range rows {
		if src.SKU == "" {
			report.Skip(r, "", "source row has no sku")
			continue
		}
		if _, dup := seen[src.SKU]; dup {
			report.Skip(r, src.SKU, "sku appears more than once in source")
			continue
		}
		seen[src.SKU] = struct{}{}

		cached, ok := cache.Lookup(src.SKU)
		if !ok {
			batch.Create = append(batch.Create, newCreation(src))
			report.Debug(r, "New product "+src.SKU, map[string]interface{}{"sku": src.SKU})
			continue
		}

		if !cached.HasRemoteID() || cached.SKU == "" {
			report.Skip(r, src.SKU, "cached entry has no remote id or sku")
			continue
		}

		patch := models.NewProductPatch(cached.RemoteID, cached.SKU)
		var changes []string

		if cached.StockQuantity != src.StockQuantity {
			patch.SetStock(src.StockQuantity)
			changes = append(changes, fmt.Sprintf("stock:%d->%d", cached.StockQuantity, src.StockQuantity))
		}
		if !cached.Price.Equal(src.Price) || !cached.RegularPrice.Equal(src.RegularPrice) {
			patch.SetPrices(src.RegularPrice, src.Price, src.SalePrice)
			changes = append(changes, fmt.Sprintf("price:%s->%s", cached.Price, src.Price))
		}

		if patch.IsEmpty() {
			continue
		}
		batch.Update = append(batch.Update, patch)
		report.Debug(r, fmt.Sprintf("Changed product %s %v", src.SKU, changes), map[string]interface{}{
			"sku":       src.SKU,
			"remote_id": cached.RemoteID,
			"patch":     patch,
		})
	}

	return batch
}

// newCreation fills in the fields every new remote product starts with
func newCreation(src models.Product) models.Product {
	p := src.Clone()
	p.RemoteID = 0
	p.Status = models.ProductDraft
	p.ManageStock = true
	p.BackordersAllowed = false
	p.StockStatus = models.StockStatusFor(p.StockQuantity)
	return p
}
