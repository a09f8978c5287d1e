package woocommerce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"catalog-sync-service/internal/clients"
	"catalog-sync-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := NewClient(Config{
		StoreURL:       server.URL,
		ConsumerKey:    "ck_test",
		ConsumerSecret: "cs_test",
		PageSize:       2,
		Timeout:        5 * time.Second,
	}, logrus.NewEntry(logger))
	require.NoError(t, err)

	return c.WithRetrier(clients.NewRetrier(&clients.RetryConfig{MaxRetries: 0}))
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{StoreURL: "https://shop.example"}, logrus.NewEntry(logrus.New()))
	assert.Error(t, err)

	_, err = NewClient(Config{ConsumerKey: "a", ConsumerSecret: "b"}, logrus.NewEntry(logrus.New()))
	assert.Error(t, err)
}

// ===========================================
// Connectivity
// ===========================================

func TestProbeConnectivity_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ck_test", user)
		assert.Equal(t, "cs_test", pass)
		assert.Equal(t, "/wp-json/wc/v3/settings", r.URL.Path)
		w.Write([]byte(`[{"id":"general"}]`))
	})

	assert.NoError(t, c.ProbeConnectivity(context.Background()))
}

func TestProbeConnectivity_EmptySettings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	err := c.ProbeConnectivity(context.Background())
	assert.ErrorIs(t, err, clients.ErrEmptyResponse)
}

func TestProbeConnectivity_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"woocommerce_rest_cannot_view"}`))
	})

	err := c.ProbeConnectivity(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, clients.StatusCodeOf(err))
}

// ===========================================
// Fetch
// ===========================================

func TestFetchAllProducts_PagesUntilEmpty(t *testing.T) {
	pages := map[int]string{
		1: `[{"id":1,"sku":"A100","price":"12.0000","regular_price":"12.0000","stock_quantity":5,"stock_status":"instock","meta_data":[{"key":"_sync_base_price","value":"10.0000"}]},
		     {"id":2,"sku":"B200","price":"8","regular_price":"8","sale_price":"8","stock_quantity":0,"stock_status":"outofstock"}]`,
		2: `[{"id":3,"sku":"C300","price":"5","regular_price":"5","stock_quantity":null,"stock_status":"instock","images":[{"id":40,"src":"https://cdn/c.jpg"}]}]`,
		3: `[]`,
	}
	var requested []int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		requested = append(requested, page)
		w.Write([]byte(pages[page]))
	})

	products, err := c.FetchAllProducts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, requested)
	require.Len(t, products, 3)

	assert.Equal(t, int64(1), products[0].RemoteID)
	assert.True(t, decimal.NewFromInt(10).Equal(products[0].Price), "base price comes from meta")
	assert.True(t, decimal.NewFromInt(12).Equal(products[0].RegularPrice))
	assert.False(t, products[0].SalePrice.Valid)

	assert.True(t, products[1].SalePrice.Valid)
	assert.Equal(t, models.StockOutOfStock, products[1].StockStatus)

	assert.Equal(t, 0, products[2].StockQuantity)
	require.Len(t, products[2].Images, 1)
	assert.Equal(t, int64(40), products[2].Images[0].ID)
}

func TestFetchAllProducts_ErrorAbortsFetch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"id":1,"sku":"A100"}]`))
	})

	products, err := c.FetchAllProducts(context.Background())
	assert.Error(t, err)
	assert.Nil(t, products)
}

// ===========================================
// Batch upload
// ===========================================

func TestUploadBatch_CreatesAndUpdates(t *testing.T) {
	var payload map[string][]map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/wp-json/wc/v3/products/batch", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		w.Write([]byte(`{
			"create":[{"id":11,"sku":"A100","status":"draft","regular_price":"12.0000","stock_quantity":5,"stock_status":"instock","meta_data":[{"key":"_sync_base_price","value":"10.0000"}]}],
			"update":[{"id":7,"sku":"B200","stock_quantity":0,"stock_status":"outofstock"}]
		}`))
	})

	create := models.NewSourceProduct("A100", "Widget", decimal.NewFromInt(10), 5, false)
	create.Status = models.ProductDraft
	create.ManageStock = true
	patch := models.NewProductPatch(7, "B200")
	patch.SetStock(0)

	result, err := c.UploadBatch(context.Background(), models.Batch{
		Create: []models.Product{create},
		Update: []models.ProductPatch{patch},
	})
	require.NoError(t, err)

	require.Len(t, payload["create"], 1)
	created := payload["create"][0]
	assert.Equal(t, "A100", created["sku"])
	assert.Equal(t, "draft", created["status"])
	assert.Equal(t, "12.0000", created["regular_price"])
	assert.Equal(t, true, created["manage_stock"])
	assert.Equal(t, "no", created["backorders"])
	assert.NotContains(t, created, "sale_price")

	require.Len(t, payload["update"], 1)
	updated := payload["update"][0]
	assert.Equal(t, float64(7), updated["id"])
	assert.Equal(t, float64(0), updated["stock_quantity"])
	assert.Equal(t, "outofstock", updated["stock_status"])
	assert.NotContains(t, updated, "regular_price")
	assert.NotContains(t, updated, "sale_price")
	assert.NotContains(t, updated, "meta_data")

	require.Len(t, result.Created, 1)
	assert.Equal(t, int64(11), result.Created[0].RemoteID)
	assert.True(t, decimal.NewFromInt(10).Equal(result.Created[0].Price))
	require.Len(t, result.Updated, 1)
	assert.Equal(t, int64(7), result.Updated[0].RemoteID)
	assert.Empty(t, result.Rejected)
}

func TestUploadBatch_ItemErrorsBecomeRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"create":[
			{"id":0,"error":{"code":"product_invalid_sku","message":"Invalid or duplicated SKU."}},
			{"id":12,"sku":"B200"}
		]}`))
	})

	result, err := c.UploadBatch(context.Background(), models.Batch{
		Create: []models.Product{{SKU: "A100"}, {SKU: "B200"}},
	})
	require.NoError(t, err)

	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "A100", result.Rejected[0].SKU)
	assert.Equal(t, "product_invalid_sku", result.Rejected[0].Code)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "B200", result.Created[0].SKU)
}

func TestUploadBatch_ServerErrorIsNotRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c.WithRetrier(clients.NewRetrier(nil))

	_, err := c.UploadBatch(context.Background(), models.Batch{Create: []models.Product{{SKU: "A100"}}})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

// ===========================================
// Single update
// ===========================================

func TestUpdateProduct_SendsOnlyPatchedFields(t *testing.T) {
	var payload map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/wp-json/wc/v3/products/7", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(`{"id":7,"sku":"A100","images":[{"id":40,"src":"https://cdn/a.jpg"}]}`))
	})

	patch := models.NewProductPatch(7, "A100")
	patch.SetImages([]models.ProductImage{{ID: 40, Src: "https://cdn/a.jpg"}})

	product, err := c.UpdateProduct(context.Background(), patch)
	require.NoError(t, err)

	assert.Len(t, payload, 2)
	assert.Equal(t, float64(7), payload["id"])
	assert.Contains(t, payload, "images")
	require.Len(t, product.Images, 1)
	assert.Equal(t, int64(40), product.Images[0].ID)
}

func TestUpdateProduct_PriceChangeClearsSale(t *testing.T) {
	var payload map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(`{"id":7}`))
	})

	patch := models.NewProductPatch(7, "A100")
	patch.SetPrices(decimal.NewFromInt(12), decimal.NewFromInt(10), decimal.NullDecimal{})

	_, err := c.UpdateProduct(context.Background(), patch)
	require.NoError(t, err)

	assert.Equal(t, "12.0000", payload["regular_price"])
	assert.Equal(t, "", payload["sale_price"])
	meta, ok := payload["meta_data"].([]interface{})
	require.True(t, ok)
	require.Len(t, meta, 1)
	assert.Equal(t, "10.0000", meta[0].(map[string]interface{})["value"])
}

func TestUpdateProduct_RequiresRemoteID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := c.UpdateProduct(context.Background(), models.NewProductPatch(0, "A100"))
	assert.Error(t, err)
}
