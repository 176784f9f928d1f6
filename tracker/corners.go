package tracker

import "image"

// shiTomasiResponse scores pixel (x,y)'s cornerness as the minimum eigenvalue of the local
// structure tensor over a (2*half+1)-square window, the same score FAST/ORB's "good features to
// track" style detectors rank candidates by before non-max suppression.
func shiTomasiResponse(gray *image.Gray, x, y, half int) float64 {
	b := gray.Bounds()
	if x-half-1 < b.Min.X || x+half+1 >= b.Max.X || y-half-1 < b.Min.Y || y+half+1 >= b.Max.Y {
		return -1
	}
	var sxx, syy, sxy float64
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			gx := float64(gray.GrayAt(x+dx+1, y+dy).Y) - float64(gray.GrayAt(x+dx-1, y+dy).Y)
			gy := float64(gray.GrayAt(x+dx, y+dy+1).Y) - float64(gray.GrayAt(x+dx, y+dy-1).Y)
			sxx += gx * gx
			syy += gy * gy
			sxy += gx * gy
		}
	}
	trace := sxx + syy
	det := sxx*syy - sxy*sxy
	disc := trace*trace/4 - det
	if disc < 0 {
		disc = 0
	}
	half2 := trace / 2
	// Minimum eigenvalue of [[sxx,sxy],[sxy,syy]].
	return half2 - sqrt(disc)
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	// Newton's method; avoids importing math for this file's two call sites, matching
	// the small inline numeric helpers this module's other packages (e.g. preintegration's
	// mat3.go) favor over pulling in a dependency for one function.
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

// detectCorners finds up to maxNew new corner candidates at least minDist pixels away from any
// existing point in occupied, ranked by Shi-Tomasi response on a 6-pixel grid (a coarse but
// cheap stand-in for full non-max suppression, adequate at the feature counts spec.md's
// MAX_CNT/MIN_DIST defaults imply).
func detectCorners(gray *image.Gray, occupied []point, maxNew int, minDist float64) []point {
	if maxNew <= 0 {
		return nil
	}
	b := gray.Bounds()
	type cand struct {
		p     point
		score float64
	}
	var candidates []cand
	const step = 6
	for y := b.Min.Y + 4; y < b.Max.Y-4; y += step {
		for x := b.Min.X + 4; x < b.Max.X-4; x += step {
			score := shiTomasiResponse(gray, x, y, 3)
			if score <= 100 {
				continue
			}
			candidates = append(candidates, cand{point{float64(x), float64(y)}, score})
		}
	}
	// Selection sort on score, descending, stopping early once maxNew accepted: simple and
	// sufficient at the few-hundred-candidate scale a single frame produces.
	var out []point
	taken := append([]point{}, occupied...)
	for len(out) < maxNew {
		bestIdx := -1
		bestScore := -1.0
		for i, c := range candidates {
			if c.score < 0 {
				continue
			}
			if !farEnough(c.p, taken, minDist) {
				continue
			}
			if c.score > bestScore {
				bestScore = c.score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		out = append(out, candidates[bestIdx].p)
		taken = append(taken, candidates[bestIdx].p)
		candidates[bestIdx].score = -1
	}
	return out
}

func farEnough(p point, others []point, minDist float64) bool {
	for _, o := range others {
		if p.sub(o).norm() < minDist {
			return false
		}
	}
	return true
}

type point struct{ x, y float64 }

func (p point) sub(o point) point { return point{p.x - o.x, p.y - o.y} }
func (p point) norm() float64     { return sqrt(p.x*p.x + p.y*p.y) }
