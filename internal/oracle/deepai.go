// Package oracle talks to the remote image-similarity service that scores
// how far apart two page layouts are.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/FranksOps/sitelayout/internal/metrics"
	"github.com/FranksOps/sitelayout/pkg/httpclient"
	"go.uber.org/zap"
)

// DefaultURL is the DeepAI image-similarity endpoint.
const DefaultURL = "https://api.deepai.org/api/image-similarity"

// DefaultTimeout bounds one request of the default client.
const DefaultTimeout = 60 * time.Second

// ErrNoDistance is returned when a 2xx response carries no numeric
// output.distance.
var ErrNoDistance = errors.New("oracle: response has no numeric distance")

// StatusError reports a non-2xx response from the oracle.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oracle: unexpected status %d: %s", e.Code, e.Body)
}

// Oracle scores the visual distance between two images. Larger means less
// similar.
type Oracle interface {
	Distance(ctx context.Context, pathA, pathB string) (float64, error)
}

// Config configures a Client.
type Config struct {
	URL    string
	APIKey string
	// Timeout bounds each request of the default client. It is ignored when
	// HTTP is set; 0 means DefaultTimeout.
	Timeout time.Duration
	// HTTP is used for requests; a default client is created when nil.
	HTTP *httpclient.Client
}

// Client calls a DeepAI-compatible image-similarity endpoint.
type Client struct {
	url    string
	apiKey string
	http   *httpclient.Client
	logger *zap.Logger
}

var _ Oracle = (*Client)(nil)

// NewClient creates a Client. APIKey is required.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("oracle: api key is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HTTP == nil {
		if cfg.Timeout <= 0 {
			cfg.Timeout = DefaultTimeout
		}
		hc, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout, MaxRedirects: 3})
		if err != nil {
			return nil, fmt.Errorf("oracle: %w", err)
		}
		cfg.HTTP = hc
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		http:   cfg.HTTP,
		logger: logger,
	}, nil
}

type response struct {
	Output struct {
		Distance any `json:"distance"`
	} `json:"output"`
	Err string `json:"err"`
}

// Distance uploads both images as image1 and image2 and returns
// output.distance. The call is made once; callers bound it with ctx.
func (c *Client) Distance(ctx context.Context, pathA, pathB string) (float64, error) {
	body, contentType, err := multipartImages(pathA, pathB)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return 0, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("api-key", c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		metrics.RecordOracleRequest("error", time.Since(start))
		return 0, fmt.Errorf("oracle: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordOracleRequest(strconv.Itoa(resp.StatusCode), time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("oracle: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoDistance, err)
	}
	distance, ok := out.Output.Distance.(float64)
	if !ok {
		if out.Err != "" {
			return 0, fmt.Errorf("%w: %s", ErrNoDistance, out.Err)
		}
		return 0, ErrNoDistance
	}

	c.logger.Debug("oracle distance",
		zap.String("image1", pathA),
		zap.String("image2", pathB),
		zap.Float64("distance", distance),
		zap.Duration("elapsed", time.Since(start)))

	return distance, nil
}

func multipartImages(pathA, pathB string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	if err := attach(mw, "image1", pathA); err != nil {
		return nil, "", err
	}
	if err := attach(mw, "image2", pathB); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("oracle: close multipart: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}

func attach(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("oracle: open %s: %w", field, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("oracle: %s part: %w", field, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("oracle: copy %s: %w", field, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
