// Package tiles fetches a panorama's tile grid concurrently, composes it
// into one equirectangular JPEG, and writes it crash-safely to disk.
package tiles

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/mapprovider"
)

// JPEGQuality is the minimum acceptable encode quality.
const JPEGQuality = 90

// TileFetchFunc retrieves one raw tile's bytes; satisfied by
// (*mapprovider.Provider).FetchTile.
type TileFetchFunc func(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error)

// Stitcher fetches a panorama's full tile grid and composes it.
type Stitcher struct {
	fetch TileFetchFunc
}

// New builds a Stitcher bound to a tile-fetching function.
func New(fetch TileFetchFunc) *Stitcher {
	return &Stitcher{fetch: fetch}
}

// NewFromProvider is a convenience constructor binding directly to a
// mapprovider.Provider.
func NewFromProvider(p *mapprovider.Provider) *Stitcher {
	return New(p.FetchTile)
}

// GridSize returns (cols, rows) for a given zoom level:
// (2^zoom, 2^(zoom-1)) for zoom >= 1, or (1,1) for zoom == 0.
func GridSize(zoom int) (cols, rows int) {
	if zoom <= 0 {
		return 1, 1
	}
	return 1 << uint(zoom), 1 << uint(zoom-1)
}

// Build fetches every tile in the (zoom) grid for panoID under tileSlots
// (enforced inside the fetch function), composes them into one image, and
// writes the encoded JPEG to destPath using write-temp-then-rename so a
// reader never observes a partial file. If any tile fails after retries,
// the whole build fails and no file is written.
func (s *Stitcher) Build(ctx context.Context, panoID string, zoom int, destPath string) error {
	cols, rows := GridSize(zoom)
	canvas := image.NewRGBA(image.Rect(0, 0, cols*mapprovider.TileSize, rows*mapprovider.TileSize))

	type tileCoord struct{ x, y int }
	coords := make([]tileCoord, 0, cols*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			coords = append(coords, tileCoord{x, y})
		}
	}

	tiles := make([]image.Image, len(coords))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range coords {
		i, c := i, c
		g.Go(func() error {
			data, err := s.fetch(gctx, panoID, zoom, c.x, c.y)
			if err != nil {
				return fmt.Errorf("fetch tile (%d,%d): %w", c.x, c.y, err)
			}
			img, err := decodeTile(data)
			if err != nil {
				return fmt.Errorf("decode tile (%d,%d): %w", c.x, c.y, err)
			}
			tiles[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return apierr.Unavailablef(err, "build panorama %s zoom %d", panoID, zoom)
	}

	for i, c := range coords {
		dstRect := image.Rect(
			c.x*mapprovider.TileSize, c.y*mapprovider.TileSize,
			(c.x+1)*mapprovider.TileSize, (c.y+1)*mapprovider.TileSize,
		)
		src := tiles[i]
		if src.Bounds().Dx() == mapprovider.TileSize && src.Bounds().Dy() == mapprovider.TileSize {
			draw.Draw(canvas, dstRect, src, src.Bounds().Min, draw.Src)
		} else {
			xdraw.BiLinear.Scale(canvas, dstRect, src, src.Bounds(), xdraw.Over, nil)
		}
	}

	return writeJPEGAtomic(canvas, destPath)
}

func decodeTile(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

func writeJPEGAtomic(img image.Image, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tile-*.jpg.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		tmp.Close()
		return fmt.Errorf("encode jpeg: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
