package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"catalog-sync-service/internal/clients"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/report"
)

// ImageTransform rewrites image bytes before upload
type ImageTransform func(data []byte) ([]byte, error)

// IdentityTransform uploads images unchanged
func IdentityTransform(data []byte) ([]byte, error) {
	return data, nil
}

// ImageAttacherConfig tunes the image workflow
type ImageAttacherConfig struct {
	Concurrency int
	CallTimeout time.Duration
	Transform   ImageTransform
}

// ImageAttacher uploads a new product's images to the media host, binds
// them to the product and then writes the image list onto the product.
type ImageAttacher struct {
	catalog     clients.CatalogClient
	media       clients.MediaClient
	sem         *Semaphore
	callTimeout time.Duration
	transform   ImageTransform
	reporter    report.Reporter
}

// NewImageAttacher creates an image attacher
func NewImageAttacher(catalog clients.CatalogClient, media clients.MediaClient, cfg ImageAttacherConfig, reporter report.Reporter) *ImageAttacher {
	if cfg.Transform == nil {
		cfg.Transform = IdentityTransform
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if reporter == nil {
		reporter = report.Nop
	}
	return &ImageAttacher{
		catalog:     catalog,
		media:       media,
		sem:         NewSemaphore(cfg.Concurrency),
		callTimeout: cfg.CallTimeout,
		transform:   cfg.Transform,
		reporter:    reporter,
	}
}

// imageSlot holds the outcome for one input image, kept by input index
type imageSlot struct {
	ref *models.MediaRef
}

// Attach runs the workflow for one product. Each image succeeds or fails on
// its own; only images that were both uploaded and bound are written to the
// product. Returns the server's product, or nil when nothing was attached.
// Failures are reported, never returned.
func (a *ImageAttacher) Attach(ctx context.Context, product models.Product, images [][]byte) *models.Product {
	if !product.HasRemoteID() {
		report.Fault(a.reporter, &report.ImageFault{SKU: product.SKU, Index: -1, Phase: report.PhasePrecheck, Err: fmt.Errorf("product has no remote id")}, nil)
		return nil
	}
	if len(images) == 0 {
		report.Fault(a.reporter, &report.ImageFault{SKU: product.SKU, RemoteID: product.RemoteID, Index: -1, Phase: report.PhasePrecheck, Err: fmt.Errorf("no images given")}, nil)
		return nil
	}

	slots := make([]imageSlot, len(images))
	var wg sync.WaitGroup

	for i, data := range images {
		release, err := a.sem.Acquire(ctx)
		if err != nil {
			a.fault(product, i, report.PhaseUpload, err)
			continue
		}

		wg.Add(1)
		go func(i int, data []byte) {
			defer wg.Done()
			defer release()
			slots[i].ref = a.uploadAndBind(ctx, product, i, data)
		}(i, data)
	}
	wg.Wait()

	var refs []models.ProductImage
	for _, s := range slots {
		if s.ref != nil {
			refs = append(refs, models.ProductImage{ID: s.ref.ID, Src: s.ref.URL})
		}
	}
	if len(refs) == 0 {
		report.Warn(a.reporter, "Image upload failed for product "+product.SKU, map[string]interface{}{
			"sku":       product.SKU,
			"remote_id": product.RemoteID,
		})
		return nil
	}

	patch := models.NewProductPatch(product.RemoteID, product.SKU)
	patch.SetImages(refs)

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	confirmed, err := a.catalog.UpdateProduct(callCtx, patch)
	if err != nil {
		a.fault(product, -1, report.PhaseUpdate, err)
		return nil
	}
	if confirmed == nil || len(confirmed.Images) == 0 {
		a.fault(product, -1, report.PhaseUpdate, clients.ErrEmptyResponse)
		return nil
	}

	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = fmt.Sprint(ref.ID)
	}
	report.Info(a.reporter, fmt.Sprintf("Image(s) %s uploaded for product %s", strings.Join(ids, ", "), product.SKU), map[string]interface{}{
		"sku":       product.SKU,
		"remote_id": product.RemoteID,
		"images":    len(refs),
	})
	return confirmed
}

// uploadAndBind returns the media reference only when both steps succeed.
// A bind failure leaves the uploaded media in place.
func (a *ImageAttacher) uploadAndBind(ctx context.Context, product models.Product, index int, data []byte) *models.MediaRef {
	payload, err := a.transform(data)
	if err != nil {
		a.fault(product, index, report.PhaseUpload, fmt.Errorf("transform: %w", err))
		return nil
	}

	uploadCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	ref, err := a.media.UploadImage(uploadCtx, product.SKU, payload)
	cancel()
	if err != nil {
		a.fault(product, index, report.PhaseUpload, err)
		return nil
	}
	if ref == nil {
		a.fault(product, index, report.PhaseUpload, clients.ErrEmptyResponse)
		return nil
	}

	bindCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	err = a.media.BindImage(bindCtx, ref.ID, product.RemoteID)
	cancel()
	if err != nil {
		a.fault(product, index, report.PhaseBind, fmt.Errorf("media %d uploaded but not bound: %w", ref.ID, err))
		return nil
	}
	return ref
}

func (a *ImageAttacher) fault(product models.Product, index int, phase report.ImagePhase, err error) {
	report.Fault(a.reporter, &report.ImageFault{
		SKU:      product.SKU,
		RemoteID: product.RemoteID,
		Index:    index,
		Phase:    phase,
		Err:      err,
	}, map[string]interface{}{"sku": product.SKU})
}
