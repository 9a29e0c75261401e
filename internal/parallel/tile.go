// Package parallel splits 2D dispatch grids into tiles and runs them on
// a work-stealing worker pool.
package parallel

// TileSize is the default edge length of a dispatch tile in pixels.
// A 32x32 tile keeps the per-tile ray count large enough to amortize
// scheduling while leaving enough tiles to balance small targets.
const TileSize = 32

// Tile is a rectangle of a dispatch grid.
// Edge tiles are clipped to the grid.
type Tile struct {
	X, Y          int
	Width, Height int
}

// Tiles splits a width x height grid into tiles of at most size x size,
// in row-major order. A size of 0 or less uses TileSize.
func Tiles(width, height, size int) []Tile {
	if width <= 0 || height <= 0 {
		return nil
	}
	if size <= 0 {
		size = TileSize
	}
	cols := (width + size - 1) / size
	rows := (height + size - 1) / size
	tiles := make([]Tile, 0, cols*rows)
	for ty := range rows {
		for tx := range cols {
			t := Tile{X: tx * size, Y: ty * size, Width: size, Height: size}
			t.Width = min(t.Width, width-t.X)
			t.Height = min(t.Height, height-t.Y)
			tiles = append(tiles, t)
		}
	}
	return tiles
}
