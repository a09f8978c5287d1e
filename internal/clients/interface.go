package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"catalog-sync-service/internal/models"
)

// CatalogClient defines the operations the sync engine needs from the remote catalog
type CatalogClient interface {
	// FetchAllProducts pages through the whole remote catalog
	FetchAllProducts(ctx context.Context) ([]models.Product, error)

	// UploadBatch submits creations and updates in a single remote call
	UploadBatch(ctx context.Context, batch models.Batch) (*models.BatchResult, error)

	// UpdateProduct applies a single partial update and returns the server's record
	UpdateProduct(ctx context.Context, patch models.ProductPatch) (*models.Product, error)

	// ProbeConnectivity verifies the remote catalog is reachable and authorized
	ProbeConnectivity(ctx context.Context) error
}

// MediaClient defines the operations needed from the media host
type MediaClient interface {
	// UploadImage stores raw image bytes named after the sku
	UploadImage(ctx context.Context, sku string, data []byte) (*models.MediaRef, error)

	// BindImage associates an uploaded media item with a remote product
	BindImage(ctx context.Context, mediaID, remoteID int64) error

	// ProbeConnectivity verifies the media host is reachable and authorized
	ProbeConnectivity(ctx context.Context) error
}

// ErrEmptyResponse is returned when the remote answers 2xx with an unusable body
var ErrEmptyResponse = errors.New("empty response from remote")

// APIError is a non-2xx answer from a remote HTTP API
type APIError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s API error (%s %s, status %d): %s", e.Service, e.Method, e.Path, e.StatusCode, body)
}

// IsUnauthorized reports whether the remote rejected the credentials
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// StatusCodeOf returns the HTTP status carried by err, or 0
func StatusCodeOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
