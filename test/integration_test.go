//go:build integration

package test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/sitelayout/internal/capture"
	"github.com/FranksOps/sitelayout/internal/clusterdata"
	"github.com/FranksOps/sitelayout/internal/dedup"
	"github.com/FranksOps/sitelayout/internal/imaging"
	"github.com/FranksOps/sitelayout/internal/oracle"
	"github.com/FranksOps/sitelayout/internal/pipeline"
	"github.com/FranksOps/sitelayout/internal/probe"
	"github.com/FranksOps/sitelayout/internal/source"
	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/FranksOps/sitelayout/internal/storage/sqlite"
	"github.com/FranksOps/sitelayout/pkg/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// shade renders a solid page whose colour depends on the URL, so every host
// gets a distinct but valid PNG.
type shade struct{}

func (shade) Capture(_ context.Context, url, _ string) (*capture.Shot, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 12))
	c := color.RGBA{R: uint8(len(url) * 7), G: 120, B: 30, A: 255}
	for y := 0; y < 12; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return &capture.Shot{PNG: buf.Bytes(), ScrollHeight: 12}, nil
}

func (shade) Close() error { return nil }

func TestIntegration_Workflow(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	// target site the prober reaches before capture
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Landing</title></head><body>hi</body></html>`))
	}))
	defer target.Close()

	var oracleCalls int32
	deepai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&oracleCalls, 1)
		if r.Header.Get("api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":{"distance":12}}`))
	}))
	defer deepai.Close()

	store, err := sqlite.New(filepath.Join(dir, "sitelayout.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx, false))

	// 1. import
	entries, err := source.Parse(strings.NewReader("example.com\nexample.org\nexample.com\nother.net\n"), source.Options{Format: source.FormatList})
	require.NoError(t, err)
	imported, err := source.NewImporter(store, logger).Import(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 3, imported.Created)

	// 2. capture
	prober, err := probe.New(probe.Config{Fingerprint: probe.ProfileGo, Timeout: 5 * time.Second}, logger)
	require.NoError(t, err)
	rgbDir := filepath.Join(dir, "original")
	runner := capture.NewRunner(capture.RunnerConfig{Dir: rgbDir, Concurrency: 2}, store, shade{}, logger,
		capture.WithLimiter(ratelimit.NewLimiter(0, 0)))
	captured, err := runner.Run(ctx, capture.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, captured.Captured)

	// the prober is exercised against a live server on the side
	res := prober.Fetch(ctx, target.URL)
	assert.Empty(t, res.Error)
	assert.Equal(t, "Landing", res.Title)

	// 3. greyscale
	greyDir := filepath.Join(dir, "greyscale")
	converted, err := imaging.NewConverter(store, greyDir, logger).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, converted.Converted)

	// 4. dedup, twice, through the redis-backed distance cache
	mr := miniredis.RunT(t)
	rc, err := oracle.DialRedis(ctx, oracle.RedisOptions{Addr: mr.Addr()}, logger)
	require.NoError(t, err)
	defer rc.Close()

	client, err := oracle.NewClient(oracle.Config{URL: deepai.URL, APIKey: "key"}, logger)
	require.NoError(t, err)
	cached := oracle.NewCached(client, oracle.NewRedisCache(rc, time.Hour), logger)

	var result *dedup.Result
	for range 2 {
		d := dedup.New(dedup.Config{Threshold: 50}, store, cached, logger)
		result, err = d.Run(ctx)
		require.NoError(t, err)
		require.NoError(t, result.Err())
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&oracleCalls), "second run is served from the cache")
	assert.ElementsMatch(t, []string{"example.com", "other.net"}, result.Unique)

	uniquePath := filepath.Join(dir, "unique_domains.log")
	require.NoError(t, dedup.WriteHosts(uniquePath, result.Unique))
	hosts, err := dedup.ReadHostsFile(uniquePath)
	require.NoError(t, err)

	// 5. copy
	clusterDir := filepath.Join(dir, "cluster_data")
	copied, err := clusterdata.NewCopier(store, clusterDir, clusterdata.Crop{Width: 4, Height: 6}, logger).Copy(ctx, hosts)
	require.NoError(t, err)
	assert.Equal(t, 2, copied.Copied)
	assert.Equal(t, 2, copied.Cropped)
	assert.Empty(t, copied.Missing)

	dims, err := clusterdata.MinDimensions(clusterDir, logger)
	require.NoError(t, err)
	assert.Equal(t, 4, dims.Width)
	assert.Equal(t, 6, dims.Height)

	_, err = os.Stat(filepath.Join(clusterDir, "example_org.png"))
	assert.True(t, os.IsNotExist(err))

	// 6. integrity
	integrity, err := pipeline.Verify(ctx, store)
	require.NoError(t, err)
	assert.True(t, integrity.OK(), "%+v", integrity)

	greyscale := storage.ScreenshotGreyscale
	shots, err := store.ListScreenshots(ctx, storage.ScreenshotFilter{Type: greyscale})
	require.NoError(t, err)
	assert.Len(t, shots, 3)
}
