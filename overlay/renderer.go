package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"proctorcam/diag"
	"proctorcam/events"
	"proctorcam/tracking"

	"gocv.io/x/gocv"
)

var (
	faceGreen   = color.RGBA{R: 0x11, G: 0x8a, B: 0x28, A: 255}
	warnAmber   = color.RGBA{R: 0xff, G: 0xb0, B: 0x00, A: 255}
	alertRed    = color.RGBA{R: 0xe0, G: 0x20, B: 0x20, A: 255}
	pendingGray = color.RGBA{R: 0xa0, G: 0xa0, B: 0xa0, A: 255}
	terminalBg  = color.RGBA{A: 180}
	terminalFg  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const maxLineLen = 90

// Renderer draws face boxes, the debounced status and an optional
// terminal of recent debug messages on top of a preview frame
type Renderer struct {
	animationTime float64
	terminalLines int
}

func NewRenderer() *Renderer {
	return &Renderer{terminalLines: 12}
}

// UpdateAnimation advances the bracket pulse
func (r *Renderer) UpdateAnimation(deltaTime float64) {
	r.animationTime += deltaTime
}

// DrawFaces outlines every detected face with corner brackets and a
// center crosshair
func (r *Renderer) DrawFaces(img *gocv.Mat, faces []image.Rectangle, confirmed tracking.Count) {
	c := StatusColor(confirmed)
	intensity := math.Sin(r.animationTime*4.0)*0.3 + 0.7

	for i, rect := range faces {
		drawCornerBrackets(img, rect, c, 2, 15, intensity)

		center := image.Pt(rect.Min.X+rect.Dx()/2, rect.Min.Y+rect.Dy()/2)
		size, gap := 12, 3
		gocv.Line(img, image.Pt(center.X-size, center.Y), image.Pt(center.X-gap, center.Y), c, 2)
		gocv.Line(img, image.Pt(center.X+gap, center.Y), image.Pt(center.X+size, center.Y), c, 2)
		gocv.Line(img, image.Pt(center.X, center.Y-size), image.Pt(center.X, center.Y-gap), c, 2)
		gocv.Line(img, image.Pt(center.X, center.Y+gap), image.Pt(center.X, center.Y+size), c, 2)
		gocv.Circle(img, center, 2, c, -1)

		gocv.PutText(img, fmt.Sprintf("FACE %d", i+1), image.Pt(rect.Min.X, rect.Min.Y-8),
			gocv.FontHersheySimplex, 0.5, c, 1)
	}
}

// DrawStatus writes the raw count, the confirmed count and the pending
// streak in the lower-left corner
func (r *Renderer) DrawStatus(img *gocv.Mat, raw int, tracker *tracking.Tracker) {
	confirmed := tracker.Confirmed()
	line := fmt.Sprintf("faces: %d  confirmed: %s  status: %s", raw, confirmed, StatusLabel(confirmed))
	y := img.Rows() - 15

	if pending, streak, ok := tracker.Pending(); ok {
		pendingLine := fmt.Sprintf("pending: %d (%d/%d)", pending, streak, tracker.Threshold())
		gocv.PutText(img, pendingLine, image.Pt(10, y-22), gocv.FontHersheySimplex, 0.5, pendingGray, 1)
	}
	gocv.PutText(img, line, image.Pt(10, y), gocv.FontHersheySimplex, 0.6, StatusColor(confirmed), 2)
}

// DrawTerminal renders recent debug messages in a translucent box in the
// upper-left corner
func (r *Renderer) DrawTerminal(img *gocv.Mat, messages []diag.DebugMessage) {
	if len(messages) > r.terminalLines {
		messages = messages[len(messages)-r.terminalLines:]
	}

	lineHeight := 14
	x, y := 20, 20
	box := image.Rect(x, y, x+620, y+20+lineHeight*r.terminalLines)
	gocv.Rectangle(img, box, terminalBg, -1)

	contentY := y + 14
	if len(messages) == 0 {
		gocv.PutText(img, "No debug messages available...", image.Pt(x+10, contentY),
			gocv.FontHersheySimplex, 0.4, pendingGray, 1)
		return
	}
	for _, m := range messages {
		gocv.PutText(img, TerminalLine(m), image.Pt(x+10, contentY),
			gocv.FontHersheySimplex, 0.35, terminalFg, 1)
		contentY += lineHeight
	}
}

// StatusColor maps a confirmed count to its box color
func StatusColor(c tracking.Count) color.RGBA {
	if !c.Known {
		return pendingGray
	}
	switch tracking.Change{To: c.Value}.Status() {
	case events.StatusOK:
		return faceGreen
	case events.StatusSuspicious:
		return warnAmber
	default:
		return alertRed
	}
}

// StatusLabel is the event status a confirmed count reports, or "pending"
func StatusLabel(c tracking.Count) string {
	if !c.Known {
		return "pending"
	}
	return string(tracking.Change{To: c.Value}.Status())
}

// TerminalLine formats one debug message, truncated to fit the box
func TerminalLine(m diag.DebugMessage) string {
	s := fmt.Sprintf("[%s][%s] %s", m.Timestamp.Format("15:04:05"), m.Component, m.Message)
	if len(s) > maxLineLen {
		s = s[:maxLineLen-3] + "..."
	}
	return s
}

func drawCornerBrackets(img *gocv.Mat, rect image.Rectangle, c color.RGBA, thickness, length int, intensity float64) {
	c.A = uint8(float64(c.A) * intensity)

	gocv.Line(img, rect.Min, image.Pt(rect.Min.X+length, rect.Min.Y), c, thickness)
	gocv.Line(img, rect.Min, image.Pt(rect.Min.X, rect.Min.Y+length), c, thickness)

	gocv.Line(img, image.Pt(rect.Max.X, rect.Min.Y), image.Pt(rect.Max.X-length, rect.Min.Y), c, thickness)
	gocv.Line(img, image.Pt(rect.Max.X, rect.Min.Y), image.Pt(rect.Max.X, rect.Min.Y+length), c, thickness)

	gocv.Line(img, image.Pt(rect.Min.X, rect.Max.Y), image.Pt(rect.Min.X+length, rect.Max.Y), c, thickness)
	gocv.Line(img, image.Pt(rect.Min.X, rect.Max.Y), image.Pt(rect.Min.X, rect.Max.Y-length), c, thickness)

	gocv.Line(img, rect.Max, image.Pt(rect.Max.X-length, rect.Max.Y), c, thickness)
	gocv.Line(img, rect.Max, image.Pt(rect.Max.X, rect.Max.Y-length), c, thickness)
}
