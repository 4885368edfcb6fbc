// Package probe issues a lightweight fingerprinted GET against a host before
// the browser capture, recording the landing page title and whether a
// bot-protection wall answered instead of the site.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FranksOps/sitelayout/pkg/httpclient"
	"github.com/FranksOps/sitelayout/pkg/useragent"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBody = 4 << 20

// Result is the outcome of one probe request. Transport failures are
// reported in Error rather than as a Go error so callers can persist them.
type Result struct {
	ID           string
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Title        string
	Duration     time.Duration
	DetectedBot  bool
	DetectionSrc string
	Error        string
	CreatedAt    time.Time
}

// Config configures a Prober.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	Fingerprint  Profile
	InsecureTLS  bool
	UserAgents   *useragent.Pool
}

// Prober performs single page fetches with a fingerprinted transport.
type Prober struct {
	client    *httpclient.Client
	detectors []Detector
	logger    *zap.Logger
}

// New creates a Prober. The client and its cookie jar live for the
// lifetime of the Prober.
func New(cfg Config, logger *zap.Logger) (*Prober, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.UserAgents == nil {
		cfg.UserAgents = useragent.NewPool(nil, useragent.Sequential)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = ProfileChrome
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport, err := Transport(cfg.Fingerprint, cfg.InsecureTLS)
	if err != nil {
		return nil, fmt.Errorf("failed to setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: true,
		Transport:    transport,
		UserAgent:    cfg.UserAgents.Next,
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Prober{
		client:    client,
		detectors: DefaultDetectors(),
		logger:    logger,
	}, nil
}

// URLForHost returns the landing URL probed and captured for host.
func URLForHost(host string) string {
	return "http://" + host + "/"
}

// Probe fetches host's landing page.
func (p *Prober) Probe(ctx context.Context, host string) *Result {
	res := p.Fetch(ctx, URLForHost(host))
	p.logger.Debug("probe finished",
		zap.String("host", host),
		zap.Int("status", res.StatusCode),
		zap.String("title", res.Title),
		zap.String("detection_src", res.DetectionSrc),
		zap.Duration("elapsed", res.Duration),
		zap.String("error", res.Error))
	return res
}

// Fetch executes a GET to targetURL and runs bot-wall detection on the
// response.
func (p *Prober) Fetch(ctx context.Context, targetURL string) *Result {
	start := time.Now()
	res := &Result{
		ID:        uuid.New().String(),
		URL:       targetURL,
		CreatedAt: start.UTC(),
	}

	resp, err := p.client.Get(ctx, targetURL)
	if err != nil {
		res.Error = fmt.Sprintf("request failed: %v", err)
		res.Duration = time.Since(start)
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		res.Error = fmt.Sprintf("failed to read body: %v", err)
	}

	res.StatusCode = resp.StatusCode
	res.Headers = resp.Header
	res.Body = body
	res.FinalURL = resp.Request.URL.String()
	res.Duration = time.Since(start)
	res.Title = pageTitle(resp.Header.Get("Content-Type"), body)

	Analyze(res, p.detectors)
	return res
}

func pageTitle(contentType string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if contentType != "" && !strings.Contains(contentType, "html") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}
