package turn

import (
	"math"
	"sort"
)

const (
	HotspotMinDistance = 150.0
	HotspotMaxCount    = 3
)

// Valid reports whether the box is inside the grid with positive extent.
func (b Box2D) Valid() bool {
	return inRange(b.Ymin) && inRange(b.Xmin) && inRange(b.Ymax) && inRange(b.Xmax) &&
		b.Ymin < b.Ymax && b.Xmin < b.Xmax
}

// Corrected clamps the box into range and widens a degenerate axis to at
// least 100 units. The second result is false when the box needed changes.
func (b Box2D) Corrected() (Box2D, bool) {
	c := Box2D{Ymin: clamp(b.Ymin), Xmin: clamp(b.Xmin), Ymax: clamp(b.Ymax), Xmax: clamp(b.Xmax)}
	c.Ymin, c.Ymax = widen(c.Ymin, c.Ymax)
	c.Xmin, c.Xmax = widen(c.Xmin, c.Xmax)
	return c, c == b
}

func widen(lo, hi int) (int, int) {
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < hi {
		return lo, hi
	}
	hi = lo + 100
	if hi > BoxScale {
		hi = BoxScale
		lo = BoxScale - 100
	}
	return lo, hi
}

func clamp(v int) int {
	return max(0, min(BoxScale, v))
}

func (b Box2D) Area() int {
	return (b.Ymax - b.Ymin) * (b.Xmax - b.Xmin)
}

// Center returns (y, x) of the box midpoint.
func (b Box2D) Center() (float64, float64) {
	return float64(b.Ymin+b.Ymax) / 2, float64(b.Xmin+b.Xmax) / 2
}

func centerDistance(a, b Box2D) float64 {
	ay, ax := a.Center()
	by, bx := b.Center()
	return math.Hypot(ay-by, ax-bx)
}

// FilterHotspots keeps the largest boxes first and drops any whose center is
// closer than minDistance to an already kept one, up to maxCount.
func FilterHotspots(objects []SceneObject, minDistance float64, maxCount int) []SceneObject {
	sorted := append([]SceneObject(nil), objects...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Box2D.Area() > sorted[j].Box2D.Area()
	})

	picked := make([]SceneObject, 0, maxCount)
	for _, obj := range sorted {
		if len(picked) >= maxCount {
			break
		}
		ok := true
		for _, p := range picked {
			if centerDistance(obj.Box2D, p.Box2D) < minDistance {
				ok = false
				break
			}
		}
		if ok {
			picked = append(picked, obj)
		}
	}
	return picked
}
