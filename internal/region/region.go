// Package region implements damage regions as sets of non-overlapping
// rectangles.
package region

import (
	"image"
)

// maxRects bounds the rectangle count; beyond it a region collapses to its
// bounding box.
const maxRects = 32

// Region is a union of rectangles. The zero value is empty.
type Region struct {
	rects []image.Rectangle
}

// New returns the union of the given rectangles.
func New(rects ...image.Rectangle) Region {
	var r Region
	for _, rect := range rects {
		r.Add(rect)
	}
	return r
}

// Add unions rect into the region.
func (r *Region) Add(rect image.Rectangle) {
	rect = rect.Canon()
	if rect.Empty() {
		return
	}

	pieces := []image.Rectangle{rect}
	for _, existing := range r.rects {
		var next []image.Rectangle
		for _, p := range pieces {
			next = append(next, subtract(p, existing)...)
		}
		pieces = next
		if len(pieces) == 0 {
			return
		}
	}
	r.rects = append(r.rects, pieces...)

	if len(r.rects) > maxRects {
		r.rects = []image.Rectangle{r.Bounds()}
	}
}

// Union adds every rectangle of o into r.
func (r *Region) Union(o Region) {
	for _, rect := range o.rects {
		r.Add(rect)
	}
}

// Clear empties the region.
func (r *Region) Clear() {
	r.rects = nil
}

// Take returns the region's contents and leaves it empty.
func (r *Region) Take() Region {
	out := Region{rects: r.rects}
	r.rects = nil
	return out
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool {
	return len(r.rects) == 0
}

// Rects returns a copy of the region's rectangles.
func (r Region) Rects() []image.Rectangle {
	out := make([]image.Rectangle, len(r.rects))
	copy(out, r.rects)
	return out
}

// Bounds returns the smallest rectangle containing the region.
func (r Region) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, rect := range r.rects {
		b = b.Union(rect)
	}
	return b
}

// Area returns the number of pixels covered.
func (r Region) Area() int {
	total := 0
	for _, rect := range r.rects {
		total += rect.Dx() * rect.Dy()
	}
	return total
}

// Clip returns the part of the region inside b.
func (r Region) Clip(b image.Rectangle) Region {
	var out Region
	for _, rect := range r.rects {
		if in := rect.Intersect(b); !in.Empty() {
			out.rects = append(out.rects, in)
		}
	}
	return out
}

// Translate returns the region moved by p.
func (r Region) Translate(p image.Point) Region {
	out := Region{rects: make([]image.Rectangle, len(r.rects))}
	for i, rect := range r.rects {
		out.rects[i] = rect.Add(p)
	}
	return out
}

// Contains reports whether p lies inside the region.
func (r Region) Contains(p image.Point) bool {
	for _, rect := range r.rects {
		if p.In(rect) {
			return true
		}
	}
	return false
}

// Overlaps reports whether rect shares any pixel with the region.
func (r Region) Overlaps(rect image.Rectangle) bool {
	for _, existing := range r.rects {
		if existing.Overlaps(rect) {
			return true
		}
	}
	return false
}

// Covers reports whether every pixel of rect lies in the region.
func (r Region) Covers(rect image.Rectangle) bool {
	rect = rect.Canon()
	if rect.Empty() {
		return true
	}
	return r.Clip(rect).Area() == rect.Dx()*rect.Dy()
}

// Equal reports whether both regions cover the same pixels.
func (r Region) Equal(o Region) bool {
	if r.Area() != o.Area() {
		return false
	}
	for _, rect := range o.rects {
		if !r.Covers(rect) {
			return false
		}
	}
	return true
}

// subtract returns a minus b as up to four disjoint rectangles.
func subtract(a, b image.Rectangle) []image.Rectangle {
	in := a.Intersect(b)
	if in.Empty() {
		return []image.Rectangle{a}
	}

	var out []image.Rectangle
	if a.Min.Y < in.Min.Y {
		out = append(out, image.Rect(a.Min.X, a.Min.Y, a.Max.X, in.Min.Y))
	}
	if in.Max.Y < a.Max.Y {
		out = append(out, image.Rect(a.Min.X, in.Max.Y, a.Max.X, a.Max.Y))
	}
	if a.Min.X < in.Min.X {
		out = append(out, image.Rect(a.Min.X, in.Min.Y, in.Min.X, in.Max.Y))
	}
	if in.Max.X < a.Max.X {
		out = append(out, image.Rect(in.Max.X, in.Min.Y, a.Max.X, in.Max.Y))
	}
	return out
}
