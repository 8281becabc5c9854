// Package render composes portrait frames and hands their dirty regions to
// the display worker.
package render

import (
	"image"
	"image/color"
)

// Screen geometry in logical (portrait) pixels.
const (
	Width  = 540
	Height = 960

	// Margins compensate for the casing covering the screen edges.
	MarginLeft   = 5
	MarginRight  = 5
	MarginTop    = 10
	MarginBottom = 10

	StatusBarHeight = 36
	BorderWidth     = 2

	MainWidth  = Width - (MarginLeft + MarginRight)
	MainHeight = Height - (StatusBarHeight + MarginTop + MarginBottom)
	MainMinX   = MarginLeft
	MainMinY   = StatusBarHeight + MarginTop

	// The page and list views sit a little below the status bar border.
	ContentMarginTop = 2
	ContentWidth     = MainWidth
	ContentHeight    = MainHeight - ContentMarginTop
	ContentMinY      = MainMinY + ContentMarginTop

	ListPad = 20

	PopupHeight      = 200
	PopupTitleHeight = 42
	PopupPad         = 10
)

// Palette. Every color is refreshable by DU4.
var (
	Black     = color.Gray{Y: 0}
	DarkGray  = color.Gray{Y: 95}
	LightGray = color.Gray{Y: 180}
	White     = color.Gray{Y: 255}
)

// StatusBarRect is the area redrawn by status updates.
func StatusBarRect() image.Rectangle {
	return image.Rect(0, MarginTop, Width, MainMinY)
}

// ContentRect is the page and list area.
func ContentRect() image.Rectangle {
	return image.Rect(MainMinX, ContentMinY, MainMinX+ContentWidth, ContentMinY+ContentHeight)
}
