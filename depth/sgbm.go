package depth

import "image"

// DisparityConfig controls the simplified semi-global block matching disparity search.
type DisparityConfig struct {
	MinDisparity, MaxDisparity int
	BlockSize                  int // half-width of the SAD correlation block
	UniquenessRatio            float64
}

// DefaultDisparityConfig returns defaults comparable to common stereo front-ends' defaults for a
// wide-VGA rectified pair.
func DefaultDisparityConfig() DisparityConfig {
	return DisparityConfig{MinDisparity: 0, MaxDisparity: 64, BlockSize: 3, UniquenessRatio: 0.15}
}

// InvalidDisparity marks a pixel with no confident match, mirroring the sentinel value common
// block-matching implementations reserve (the standard library's image types have no native NaN
// disparity concept, so this package defines its own).
const InvalidDisparity = -1.0

// Disparity computes a per-pixel disparity map between two rectified grayscale images using a
// SAD cost per candidate disparity plus a smoothness penalty proportional to its distance from
// the disparity chosen at the previous pixel of the same row, scanned left to right (a greedy
// pass; no path costs are accumulated). This approximates full semi-global matching's multi-directional aggregation with one
// horizontal pass, trading some accuracy at strong depth discontinuities for an implementation
// that doesn't require a cgo dependency; see DESIGN.md's depth entry for the full tradeoff.
func Disparity(left, right *image.Gray, cfg DisparityConfig) [][]float64 {
	b := left.Bounds()
	w, h := b.Dx(), b.Dy()
	numD := cfg.MaxDisparity - cfg.MinDisparity + 1
	disp := make([][]float64, h)
	for y := range disp {
		disp[y] = make([]float64, w)
	}

	cost := make([]float64, numD)
	const smooth = 8.0 // penalty per unit disparity change between neighboring pixels, aggregated

	for y := 0; y < h; y++ {
		prevBest := -1
		for x := 0; x < w; x++ {
			bestCost, secondCost := -1.0, -1.0
			bestD := -1
			for di := 0; di < numD; di++ {
				d := cfg.MinDisparity + di
				rx := x - d
				c := sadBlock(left, b.Min.X+x, b.Min.Y+y, right, b.Min.X+rx, b.Min.Y+y, cfg.BlockSize)
				if c < 0 {
					cost[di] = -1
					continue
				}
				if prevBest >= 0 {
					c += smooth * float64(absInt(di-prevBest))
				}
				cost[di] = c
				if bestCost < 0 || c < bestCost {
					secondCost = bestCost
					bestCost = c
					bestD = di
				} else if secondCost < 0 || c < secondCost {
					secondCost = c
				}
			}
			if bestD < 0 {
				disp[y][x] = InvalidDisparity
				continue
			}
			if secondCost >= 0 && bestCost > 0 {
				ratio := (secondCost - bestCost) / bestCost
				if ratio < cfg.UniquenessRatio {
					disp[y][x] = InvalidDisparity
					prevBest = bestD
					continue
				}
			}
			disp[y][x] = float64(cfg.MinDisparity + bestD)
			prevBest = bestD
		}
	}
	return disp
}

func sadBlock(a *image.Gray, ax, ay int, b *image.Gray, bx, by int, half int) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	if ax-half < ab.Min.X || ax+half >= ab.Max.X || ay-half < ab.Min.Y || ay+half >= ab.Max.Y {
		return -1
	}
	if bx-half < bb.Min.X || bx+half >= bb.Max.X || by-half < bb.Min.Y || by+half >= bb.Max.Y {
		return -1
	}
	var sum float64
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			diff := int(a.GrayAt(ax+dx, ay+dy).Y) - int(b.GrayAt(bx+dx, by+dy).Y)
			if diff < 0 {
				diff = -diff
			}
			sum += float64(diff)
		}
	}
	return sum
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
