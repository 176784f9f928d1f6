package tracker

import "image"

// patchHalf is the half-width of the SSD correlation patch used for both frame-to-frame tracking
// and stereo matching.
const patchHalf = 4

// trackPatch searches a window of radius searchRadius around guess in cur for the position whose
// patchHalf-radius neighborhood best matches prev's patch around from, by sum-of-squared
// differences. This stands in for a full iterative Lucas-Kanade flow with a single-scale
// brute-force correlation search, adequate at the per-feature window search scale spec.md's
// MAX_CNT/MIN_DIST defaults imply.
func trackPatch(prev, cur *image.Gray, from, guess point, searchRadius int) (point, bool) {
	fx, fy := int(from.x), int(from.y)
	if !patchInBounds(prev, fx, fy) {
		return point{}, false
	}

	gx, gy := int(guess.x), int(guess.y)
	bestScore := -1.0
	var best point
	found := false
	for dy := -searchRadius; dy <= searchRadius; dy++ {
		for dx := -searchRadius; dx <= searchRadius; dx++ {
			cx, cy := gx+dx, gy+dy
			if !patchInBounds(cur, cx, cy) {
				continue
			}
			score := ssd(prev, fx, fy, cur, cx, cy)
			if !found || score < bestScore {
				bestScore = score
				best = point{float64(cx), float64(cy)}
				found = true
			}
		}
	}
	return best, found
}

func patchInBounds(img *image.Gray, x, y int) bool {
	b := img.Bounds()
	return x-patchHalf >= b.Min.X && x+patchHalf < b.Max.X && y-patchHalf >= b.Min.Y && y+patchHalf < b.Max.Y
}

func ssd(a *image.Gray, ax, ay int, b *image.Gray, bx, by int) float64 {
	var sum float64
	for dy := -patchHalf; dy <= patchHalf; dy++ {
		for dx := -patchHalf; dx <= patchHalf; dx++ {
			diff := float64(a.GrayAt(ax+dx, ay+dy).Y) - float64(b.GrayAt(bx+dx, by+dy).Y)
			sum += diff * diff
		}
	}
	return sum
}
