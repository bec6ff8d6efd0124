package tui

import "github.com/gdamore/tcell/v2"

var (
	ColorBg        = tcell.NewRGBColor(0, 0, 128)
	ColorFg        = tcell.NewRGBColor(192, 192, 192)
	ColorBorder    = tcell.NewRGBColor(0, 255, 255)
	ColorTitle     = tcell.NewRGBColor(255, 255, 255)
	ColorHighlight = tcell.NewRGBColor(0, 255, 255)
	ColorField     = tcell.NewRGBColor(0, 0, 64)
	ColorButton    = tcell.NewRGBColor(0, 128, 128)
)
