package imaging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/FranksOps/sitelayout/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_Run(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx, false))

	rgbDir := t.TempDir()
	greyDir := filepath.Join(t.TempDir(), "grey")

	addSite := func(host string, failed bool, write bool) *storage.Site {
		site := &storage.Site{Host: host, Name: storage.NameForHost(host)}
		require.NoError(t, store.CreateSite(ctx, site))
		path := filepath.Join(rgbDir, site.Name+".png")
		if write {
			require.NoError(t, WritePNG(path, colourImage(4, 2)))
		}
		require.NoError(t, store.SaveScreenshot(ctx, &storage.Screenshot{
			SiteID: site.ID, Path: path, Type: storage.ScreenshotRGB, Failed: failed, ScrollHeight: 2,
		}))
		return site
	}

	good := addSite("a.com", false, true)
	addSite("failed.com", true, false)
	addSite("missing.com", false, false)

	conv := NewConverter(store, greyDir, nil)
	sum, err := conv.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Converted)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Skipped)

	grey, err := store.FindScreenshot(ctx, good.ID, storage.ScreenshotGreyscale)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(greyDir, "a_com.png"), grey.Path)
	assert.Equal(t, 2, grey.ScrollHeight)

	img, err := Decode(grey.Path)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	// a second run finds the greyscale sibling
	sum, err = conv.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Converted)
	assert.Equal(t, 1, sum.Skipped)
}

func TestConverter_Cancelled(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(context.Background(), false))

	site := &storage.Site{Host: "a.com", Name: "a_com"}
	require.NoError(t, store.CreateSite(context.Background(), site))
	require.NoError(t, store.SaveScreenshot(context.Background(), &storage.Screenshot{
		SiteID: site.ID, Path: "a_com.png", Type: storage.ScreenshotRGB,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewConverter(store, t.TempDir(), nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
