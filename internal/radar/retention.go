package radar

import "time"

// Expired returns the tiles whose embedded timestamp is older than retention
// relative to now. A non-positive retention falls back to DefaultRetention.
func Expired(tiles []Tile, now time.Time, retention time.Duration) []Tile {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)

	var out []Tile
	for _, t := range tiles {
		if t.At.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
