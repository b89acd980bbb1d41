package dom

// Viewport is the visible region of the page.
type Viewport struct {
	Width  float64
	Height float64
}

// ComputedStyle is the subset of CSS state the visibility check reads.
type ComputedStyle struct {
	Display    string
	Visibility string
	Opacity    float64
}

// StyledVisible reports whether an element's computed style allows it to
// render at all. Zero-area elements are treated as invisible regardless
// of style, matching how layout collapses them.
func StyledVisible(style ComputedStyle, rect Rect) bool {
	if style.Display == "none" || style.Visibility == "hidden" {
		return false
	}
	if style.Opacity == 0 {
		return false
	}
	return rect.Width > 0 && rect.Height > 0
}

// InViewport reports whether rect intersects the viewport. Touching the
// edge does not count; the element must have visible area on screen.
func InViewport(rect Rect, vp Viewport) bool {
	if rect.Width <= 0 || rect.Height <= 0 {
		return false
	}
	right := rect.Left + rect.Width
	bottom := rect.Top + rect.Height
	return right > 0 && bottom > 0 && rect.Left < vp.Width && rect.Top < vp.Height
}

// IsVisible is the full oracle: styled-visible and on screen.
func IsVisible(style ComputedStyle, rect Rect, vp Viewport) bool {
	return StyledVisible(style, rect) && InViewport(rect, vp)
}
