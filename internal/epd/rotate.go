package epd

// toNative maps a logical rectangle to controller coordinates. The pivots are
// the native panel width and height.
func toNative(rot Rotation, r Rect) Rect {
	switch rot {
	case Rotate90:
		return Rect{X: r.Y, Y: PanelHeight - (r.W + r.X), W: r.H, H: r.W}
	case Rotate180:
		return Rect{X: PanelWidth - (r.W + r.X), Y: PanelHeight - (r.H + r.Y), W: r.W, H: r.H}
	case Rotate270:
		return Rect{X: PanelWidth - (r.H + r.Y), Y: r.X, W: r.H, H: r.W}
	}
	return r
}

// fromNative is the inverse of toNative.
func fromNative(rot Rotation, n Rect) Rect {
	switch rot {
	case Rotate90:
		return Rect{X: PanelHeight - (n.H + n.Y), Y: n.X, W: n.H, H: n.W}
	case Rotate180:
		return Rect{X: PanelWidth - (n.W + n.X), Y: PanelHeight - (n.H + n.Y), W: n.W, H: n.H}
	case Rotate270:
		return Rect{X: n.Y, Y: PanelWidth - (n.X + n.W), W: n.H, H: n.W}
	}
	return n
}
