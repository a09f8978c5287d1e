package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"catalog-sync-service/internal/clients"
	"catalog-sync-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	apiPath         = "/wp-json/wc/v3"
	defaultPageSize = 100
	serviceName     = "WooCommerce"

	// basePriceMetaKey stores the source price before markup. WooCommerce
	// derives its own "price" from regular and sale price, which would never
	// match the source price of a marked-up item.
	basePriceMetaKey = "_sync_base_price"
)

// Config holds the WooCommerce REST API settings
type Config struct {
	StoreURL       string
	ConsumerKey    string
	ConsumerSecret string
	PageSize       int
	Timeout        time.Duration
	RequestsPerSec float64
}

// Client implements clients.CatalogClient for the WooCommerce REST API
type Client struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
	pageSize       int
	rateLimiter    *rate.Limiter
	retrier        *clients.Retrier
	logger         *logrus.Entry
}

var _ clients.CatalogClient = (*Client)(nil)

// NewClient creates a new WooCommerce REST API client
func NewClient(cfg Config, logger *logrus.Entry) (*Client, error) {
	storeURL := strings.TrimRight(cfg.StoreURL, "/")
	if storeURL == "" {
		return nil, fmt.Errorf("missing store url")
	}
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("missing consumer key or secret")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Limit(cfg.RequestsPerSec)
	if cfg.RequestsPerSec <= 0 {
		limit = rate.Inf
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        storeURL + apiPath,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		pageSize:       pageSize,
		rateLimiter:    rate.NewLimiter(limit, 1),
		retrier:        clients.NewRetrier(nil),
		logger:         logger.WithField("client", "woocommerce"),
	}, nil
}

// WithRetrier replaces the retrier used for reads
func (c *Client) WithRetrier(r *clients.Retrier) *Client {
	c.retrier = r
	return c
}

// ProbeConnectivity verifies the store answers with a non-empty settings list
func (c *Client) ProbeConnectivity(ctx context.Context) error {
	body, _, err := c.doRead(ctx, "/settings", nil)
	if err != nil {
		return err
	}

	var groups []json.RawMessage
	if err := json.Unmarshal(body, &groups); err != nil {
		return fmt.Errorf("failed to parse settings response: %w", err)
	}
	if len(groups) == 0 {
		return fmt.Errorf("settings: %w", clients.ErrEmptyResponse)
	}
	return nil
}

// FetchAllProducts pages through the catalog until an empty page is returned
func (c *Client) FetchAllProducts(ctx context.Context) ([]models.Product, error) {
	var all []models.Product

	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(c.pageSize))

		body, _, err := c.doRead(ctx, "/products", params)
		if err != nil {
			return nil, fmt.Errorf("fetch products page %d: %w", page, err)
		}

		var products []wooProduct
		if err := json.Unmarshal(body, &products); err != nil {
			return nil, fmt.Errorf("failed to parse products page %d: %w", page, err)
		}
		if len(products) == 0 {
			break
		}

		c.logger.WithFields(logrus.Fields{"page": page, "count": len(products)}).
			Infof("Got %d products from page %d", len(products), page)
		for _, p := range products {
			all = append(all, p.toModel())
		}
	}

	return all, nil
}

// UploadBatch submits creations and updates in one products/batch call.
// Items the store refuses individually come back as Rejected.
func (c *Client) UploadBatch(ctx context.Context, batch models.Batch) (*models.BatchResult, error) {
	req := wooBatchRequest{}
	for _, p := range batch.Create {
		req.Create = append(req.Create, newWooCreate(p))
	}
	for _, patch := range batch.Update {
		req.Update = append(req.Update, patchPayload(patch))
	}

	body, _, err := c.doRequest(ctx, http.MethodPost, "/products/batch", nil, req)
	if err != nil {
		return nil, err
	}

	var resp wooBatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}

	result := &models.BatchResult{}
	for i, item := range resp.Create {
		if item.Error != nil {
			rejected := item.Error.toRejected()
			if i < len(batch.Create) {
				rejected.SKU = batch.Create[i].SKU
			}
			result.Rejected = append(result.Rejected, rejected)
			continue
		}
		result.Created = append(result.Created, item.toModel())
	}
	for i, item := range resp.Update {
		if item.Error != nil {
			rejected := item.Error.toRejected()
			rejected.RemoteID = item.ID
			if i < len(batch.Update) {
				rejected.SKU = batch.Update[i].SKU
				rejected.RemoteID = batch.Update[i].RemoteID
			}
			result.Rejected = append(result.Rejected, rejected)
			continue
		}
		result.Updated = append(result.Updated, item.toModel())
	}

	return result, nil
}

// UpdateProduct applies a single partial update
func (c *Client) UpdateProduct(ctx context.Context, patch models.ProductPatch) (*models.Product, error) {
	if patch.RemoteID <= 0 {
		return nil, fmt.Errorf("update requires a remote id")
	}

	path := fmt.Sprintf("/products/%d", patch.RemoteID)
	body, _, err := c.doRequest(ctx, http.MethodPut, path, nil, patchPayload(patch))
	if err != nil {
		return nil, err
	}

	var product wooProduct
	if err := json.Unmarshal(body, &product); err != nil {
		return nil, fmt.Errorf("failed to parse product response: %w", err)
	}
	if product.ID == 0 {
		return nil, fmt.Errorf("update product %d: %w", patch.RemoteID, clients.ErrEmptyResponse)
	}

	out := product.toModel()
	return &out, nil
}

// doRead performs an idempotent GET with retries
func (c *Client) doRead(ctx context.Context, path string, params url.Values) ([]byte, http.Header, error) {
	var (
		body    []byte
		headers http.Header
	)
	attempts, err := c.retrier.Do(ctx, func(ctx context.Context) (time.Duration, error) {
		var reqErr error
		body, headers, reqErr = c.doRequest(ctx, http.MethodGet, path, params, nil)
		if reqErr != nil && headers != nil {
			return clients.ParseRetryAfter(headers), reqErr
		}
		return 0, reqErr
	})
	if err != nil && attempts > 1 {
		c.logger.WithFields(logrus.Fields{"path": path, "attempts": attempts}).Warn("Read failed after retries")
	}
	return body, headers, err
}

// doRequest performs an authenticated HTTP request. On an API error the
// response headers are still returned so callers can honour Retry-After.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, http.Header, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, nil, err
	}

	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, resp.Header, &clients.APIError{
			Service:    serviceName,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	return respBody, resp.Header, nil
}

// WooCommerce data structures

type wooImage struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src,omitempty"`
}

type wooMeta struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

type wooProduct struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	SKU               string     `json:"sku"`
	Status            string     `json:"status"`
	Price             string     `json:"price"`
	RegularPrice      string     `json:"regular_price"`
	SalePrice         string     `json:"sale_price"`
	ManageStock       bool       `json:"manage_stock"`
	StockQuantity     *int       `json:"stock_quantity"`
	StockStatus       string     `json:"stock_status"`
	BackordersAllowed bool       `json:"backorders_allowed"`
	Images            []wooImage `json:"images"`
	MetaData          []wooMeta  `json:"meta_data"`
}

type wooCreate struct {
	Name          string     `json:"name"`
	SKU           string     `json:"sku"`
	Status        string     `json:"status"`
	RegularPrice  string     `json:"regular_price"`
	SalePrice     string     `json:"sale_price,omitempty"`
	ManageStock   bool       `json:"manage_stock"`
	StockQuantity int        `json:"stock_quantity"`
	StockStatus   string     `json:"stock_status"`
	Backorders    string     `json:"backorders"`
	Images        []wooImage `json:"images,omitempty"`
	MetaData      []wooMeta  `json:"meta_data"`
}

type wooBatchRequest struct {
	Create []wooCreate              `json:"create,omitempty"`
	Update []map[string]interface{} `json:"update,omitempty"`
}

type wooItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *wooItemError) toRejected() models.RejectedItem {
	return models.RejectedItem{Code: e.Code, Message: e.Message}
}

type wooBatchItem struct {
	wooProduct
	Error *wooItemError `json:"error,omitempty"`
}

type wooBatchResponse struct {
	Create []wooBatchItem `json:"create"`
	Update []wooBatchItem `json:"update"`
}

func formatPrice(d decimal.Decimal) string {
	return d.StringFixed(models.PricePrecision)
}

func parsePrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func newWooCreate(p models.Product) wooCreate {
	status := p.Status
	if status == "" {
		status = models.ProductDraft
	}
	out := wooCreate{
		Name:          p.Name,
		SKU:           p.SKU,
		Status:        string(status),
		RegularPrice:  formatPrice(p.RegularPrice),
		ManageStock:   p.ManageStock,
		StockQuantity: p.StockQuantity,
		StockStatus:   string(p.StockStatus),
		Backorders:    "no",
		MetaData:      []wooMeta{{Key: basePriceMetaKey, Value: formatPrice(p.Price)}},
	}
	if p.BackordersAllowed {
		out.Backorders = "yes"
	}
	if p.SalePrice.Valid {
		out.SalePrice = formatPrice(p.SalePrice.Decimal)
	}
	for _, img := range p.Images {
		out.Images = append(out.Images, wooImage{ID: img.ID, Src: img.Src})
	}
	return out
}

// patchPayload emits the id plus only the fields the patch changed.
// The source price travels as product meta; an empty sale_price clears a
// previous sale.
func patchPayload(patch models.ProductPatch) map[string]interface{} {
	out := map[string]interface{}{"id": patch.RemoteID}

	for _, f := range patch.Fields() {
		switch f {
		case models.FieldStockQuantity:
			out["stock_quantity"] = patch.StockQuantity
		case models.FieldStockStatus:
			out["stock_status"] = string(patch.StockStatus)
		case models.FieldRegularPrice:
			out["regular_price"] = formatPrice(patch.RegularPrice)
		case models.FieldPrice:
			out["meta_data"] = []wooMeta{{Key: basePriceMetaKey, Value: formatPrice(patch.Price)}}
		case models.FieldSalePrice:
			if patch.SalePrice.Valid {
				out["sale_price"] = formatPrice(patch.SalePrice.Decimal)
			} else {
				out["sale_price"] = ""
			}
		case models.FieldImages:
			images := make([]wooImage, 0, len(patch.Images))
			for _, img := range patch.Images {
				images = append(images, wooImage{ID: img.ID})
			}
			out["images"] = images
		}
	}
	return out
}

func (p wooProduct) toModel() models.Product {
	out := models.Product{
		RemoteID:          p.ID,
		SKU:               p.SKU,
		Name:              p.Name,
		Price:             p.basePrice(),
		RegularPrice:      parsePrice(p.RegularPrice),
		StockStatus:       models.StockStatus(p.StockStatus),
		Status:            models.ProductStatus(p.Status),
		ManageStock:       p.ManageStock,
		BackordersAllowed: p.BackordersAllowed,
	}
	if p.StockQuantity != nil {
		out.StockQuantity = *p.StockQuantity
	}
	if strings.TrimSpace(p.SalePrice) != "" {
		out.SalePrice = decimal.NewNullDecimal(parsePrice(p.SalePrice))
	}
	for _, img := range p.Images {
		out.Images = append(out.Images, models.ProductImage{ID: img.ID, Src: img.Src})
	}
	return out
}

// basePrice prefers the stored source price and falls back to the price
// WooCommerce computed, for products created outside the sync.
func (p wooProduct) basePrice() decimal.Decimal {
	for _, m := range p.MetaData {
		if m.Key != basePriceMetaKey || m.Value == nil {
			continue
		}
		if d, err := decimal.NewFromString(strings.TrimSpace(fmt.Sprint(m.Value))); err == nil {
			return d
		}
	}
	return parsePrice(p.Price)
}
