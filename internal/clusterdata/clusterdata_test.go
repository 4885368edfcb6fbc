package clusterdata

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/FranksOps/sitelayout/internal/imaging"
	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/FranksOps/sitelayout/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greyImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	img.SetGray(0, 0, color.Gray{Y: 7})
	return img
}

func seed(t *testing.T) (storage.Store, string) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx, false))

	greyDir := t.TempDir()
	for _, s := range []struct {
		host string
		w, h int
		grey bool
	}{
		{"a.com", 300, 200, true},
		{"b.org", 100, 400, true},
		{"nogrey.net", 0, 0, false},
	} {
		site := &storage.Site{Host: s.host, Name: storage.NameForHost(s.host)}
		require.NoError(t, store.CreateSite(ctx, site))
		if !s.grey {
			continue
		}
		path := filepath.Join(greyDir, site.Name+".png")
		require.NoError(t, imaging.WritePNG(path, greyImage(s.w, s.h)))
		require.NoError(t, store.SaveScreenshot(ctx, &storage.Screenshot{
			SiteID: site.ID, Path: path, Type: storage.ScreenshotGreyscale,
		}))
	}
	return store, greyDir
}

func TestCopier_Copy(t *testing.T) {
	store, greyDir := seed(t)
	dir := filepath.Join(t.TempDir(), "cluster_data")

	sum, err := NewCopier(store, dir, Crop{}, nil).Copy(context.Background(),
		[]string{"a.com", "b.org", "nogrey.net", "unknown.io"})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Copied)
	assert.Equal(t, 0, sum.Cropped)
	assert.Equal(t, []string{"nogrey.net", "unknown.io"}, sum.Missing)

	want, err := os.ReadFile(filepath.Join(greyDir, "a_com.png"))
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dir, "a_com.png"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCopier_Crop(t *testing.T) {
	store, _ := seed(t)
	dir := t.TempDir()

	sum, err := NewCopier(store, dir, Crop{Width: 150, Height: 250}, nil).Copy(context.Background(),
		[]string{"a.com", "b.org"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Cropped)

	w, h, err := imaging.Size(filepath.Join(dir, "a_com.png"))
	require.NoError(t, err)
	assert.Equal(t, [2]int{150, 200}, [2]int{w, h})

	w, h, err = imaging.Size(filepath.Join(dir, "b_org.png"))
	require.NoError(t, err)
	assert.Equal(t, [2]int{100, 250}, [2]int{w, h})

	img, err := imaging.Decode(filepath.Join(dir, "a_com.png"))
	require.NoError(t, err)
	g, ok := img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(7), g.GrayAt(0, 0).Y, "crop keeps the top-left corner")
}

func TestMinDimensions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, imaging.WritePNG(filepath.Join(dir, "a_com.png"), greyImage(300, 200)))
	require.NoError(t, imaging.WritePNG(filepath.Join(dir, "b_org.png"), greyImage(100, 400)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	dims, err := MinDimensions(dir, nil)
	require.NoError(t, err)

	assert.Equal(t, 100, dims.Width)
	assert.Equal(t, 200, dims.Height)
	require.Len(t, dims.Images, 2)
	assert.Equal(t, ImageSize{Name: "a_com.png", Width: 300, Height: 200}, dims.Images[0])
}

func TestMinDimensions_Empty(t *testing.T) {
	dims, err := MinDimensions(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Zero(t, dims.Width)
	assert.Empty(t, dims.Images)

	_, err = MinDimensions(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}
