package wordpress

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

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	mediaPath   = "/wp-json/wp/v2/media"
	serviceName = "WordPress"
)

// Config holds the WordPress media endpoint settings
type Config struct {
	SiteURL        string
	AuthToken      string
	Cookie         string
	Timeout        time.Duration
	RequestsPerSec float64

	// Consecutive failures before uploads are short-circuited
	BreakerThreshold int
	BreakerReset     time.Duration
}

// Client implements clients.MediaClient against the WordPress media REST API
type Client struct {
	httpClient  *http.Client
	mediaURL    string
	authToken   string
	cookie      string
	rateLimiter *rate.Limiter
	breaker     *clients.CircuitBreaker
	logger      *logrus.Entry
}

var _ clients.MediaClient = (*Client)(nil)

// NewClient creates a new WordPress media client
func NewClient(cfg Config, logger *logrus.Entry) (*Client, error) {
	siteURL := strings.TrimRight(cfg.SiteURL, "/")
	if siteURL == "" {
		return nil, fmt.Errorf("missing site url")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	limit := rate.Limit(cfg.RequestsPerSec)
	if cfg.RequestsPerSec <= 0 {
		limit = rate.Inf
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	reset := cfg.BreakerReset
	if reset <= 0 {
		reset = time.Minute
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		mediaURL:    siteURL + mediaPath,
		authToken:   cfg.AuthToken,
		cookie:      cfg.Cookie,
		rateLimiter: rate.NewLimiter(limit, 1),
		breaker:     clients.NewCircuitBreaker(threshold, reset),
		logger:      logger.WithField("client", "wordpress"),
	}, nil
}

// ProbeConnectivity lists media to verify the credentials
func (c *Client) ProbeConnectivity(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.mediaURL, nil, nil)
	return err
}

// UploadImage posts raw image bytes as a new media item named <sku>.jpg
func (c *Client) UploadImage(ctx context.Context, sku string, data []byte) (*models.MediaRef, error) {
	if sku == "" || len(data) == 0 {
		return nil, fmt.Errorf("upload requires a sku and image data")
	}
	if !c.breaker.Allow() {
		return nil, clients.ErrCircuitOpen
	}

	headers := http.Header{}
	headers.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sku+".jpg"))
	headers.Set("Content-Type", contentTypeOf(data))

	c.logger.WithFields(logrus.Fields{"sku": sku, "bytes": len(data)}).Debug("Uploading image")
	body, err := c.do(ctx, http.MethodPost, c.mediaURL, headers, bytes.NewReader(data))
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()

	return parseMedia(body)
}

// BindImage attaches an uploaded media item to a product post
func (c *Client) BindImage(ctx context.Context, mediaID, remoteID int64) error {
	if mediaID <= 0 || remoteID <= 0 {
		return fmt.Errorf("bind requires a media id and a remote id")
	}

	form := url.Values{}
	form.Set("post", strconv.FormatInt(remoteID, 10))

	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.WithFields(logrus.Fields{"media_id": mediaID, "remote_id": remoteID}).Debug("Binding image")
	target := fmt.Sprintf("%s/%d", c.mediaURL, mediaID)
	body, err := c.do(ctx, http.MethodPost, target, headers, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}

	_, err = parseMedia(body)
	return err
}

func (c *Client) do(ctx context.Context, method, target string, headers http.Header, body io.Reader) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", c.authToken)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &clients.APIError{
			Service:    serviceName,
			Method:     method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
	return respBody, nil
}

type wpMedia struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}

func parseMedia(body []byte) (*models.MediaRef, error) {
	var media wpMedia
	if err := json.Unmarshal(body, &media); err != nil {
		return nil, fmt.Errorf("failed to parse media response: %w", err)
	}
	if media.ID <= 0 || media.SourceURL == "" {
		return nil, fmt.Errorf("media response: %w", clients.ErrEmptyResponse)
	}
	return &models.MediaRef{ID: media.ID, URL: media.SourceURL}, nil
}

// contentTypeOf sniffs the image type, defaulting to JPEG like the filename
func contentTypeOf(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}
