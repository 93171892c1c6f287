// Package reportcard renders attempt reports as shareable PNG cards.
package reportcard

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/carelearn/carelearn/internal/platform/reporting"
)

const (
	Width  = 800
	Height = 1000

	margin      = 48.0
	maxWeakBars = 5
)

var (
	background = color.NRGBA{R: 0xF7, G: 0xF8, B: 0xFA, A: 0xFF}
	ink        = color.NRGBA{R: 0x1F, G: 0x29, B: 0x37, A: 0xFF}
	muted      = color.NRGBA{R: 0x6B, G: 0x72, B: 0x80, A: 0xFF}
	track      = color.NRGBA{R: 0xE5, G: 0xE7, B: 0xEB, A: 0xFF}
	passColor  = color.NRGBA{R: 0x16, G: 0xA3, B: 0x4A, A: 0xFF}
	failColor  = color.NRGBA{R: 0xDC, G: 0x26, B: 0x26, A: 0xFF}
	weakColor  = color.NRGBA{R: 0xF5, G: 0x9E, B: 0x0B, A: 0xFF}
)

var energyColors = map[reporting.Color]color.NRGBA{
	reporting.ColorRed:    {R: 0xD9, G: 0x2D, B: 0x20, A: 0xFF},
	reporting.ColorYellow: {R: 0xF2, G: 0xC1, B: 0x1D, A: 0xFF},
	reporting.ColorGreen:  {R: 0x2E, G: 0x9E, B: 0x5B, A: 0xFF},
	reporting.ColorBlue:   {R: 0x1F, G: 0x6F, B: 0xC9, A: 0xFF},
}

// Renderer draws report cards. Parsed fonts are shared; faces are created
// per render because a font.Face is not safe for concurrent use.
type Renderer struct {
	regular *truetype.Font
	bold    *truetype.Font
}

func NewRenderer() (*Renderer, error) {
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &Renderer{regular: regular, bold: bold}, nil
}

func (r *Renderer) face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingNone})
}

// RenderQuiz writes the card of a standard quiz report as PNG.
func (r *Renderer) RenderQuiz(w io.Writer, title string, rep *reporting.QuizReport) error {
	if rep == nil {
		return fmt.Errorf("report is required")
	}
	dc := r.canvas(title, "Quiz report")

	// score ring
	cx, cy, radius := margin+90, 250.0, 80.0
	fraction := float64(clamp(rep.Score, 0, 100)) / 100
	verdict := failColor
	if rep.PassStatus == reporting.StatusPass {
		verdict = passColor
	}
	dc.SetLineWidth(18)
	dc.SetColor(track)
	dc.DrawCircle(cx, cy, radius)
	dc.Stroke()
	if fraction > 0 {
		dc.SetColor(verdict)
		dc.DrawArc(cx, cy, radius, -math.Pi/2, -math.Pi/2+2*math.Pi*fraction)
		dc.Stroke()
	}
	dc.SetColor(ink)
	dc.SetFontFace(r.face(r.bold, 40))
	dc.DrawStringAnchored(fmt.Sprintf("%d%%", rep.Score), cx, cy, 0.5, 0.35)

	// badge and counts
	bx := 560.0
	dc.SetColor(verdict)
	dc.DrawRoundedRectangle(bx, 150, 180, 56, 12)
	dc.Fill()
	dc.SetColor(color.White)
	dc.SetFontFace(r.face(r.bold, 26))
	dc.DrawStringAnchored(strings.ToUpper(string(rep.PassStatus)), bx+90, 178, 0.5, 0.35)

	dc.SetColor(ink)
	dc.SetFontFace(r.face(r.regular, 20))
	dc.DrawString(fmt.Sprintf("%d of %d correct", rep.CorrectAnswers, rep.TotalQuestions), 300, 240)
	dc.DrawString(fmt.Sprintf("Pass mark %d%%", rep.PassThreshold), 300, 272)
	dc.DrawString("Time spent "+formatDuration(rep.TimeSpentSeconds), 300, 304)

	// weak areas
	y := 400.0
	dc.SetFontFace(r.face(r.bold, 22))
	dc.DrawString("Areas to review", margin, y)
	y += 20
	dc.SetFontFace(r.face(r.regular, 18))
	if len(rep.WeakAreas) == 0 {
		y += 28
		dc.SetColor(muted)
		dc.DrawString("No weak areas. Every category is at or above 70%.", margin, y)
		y += 20
	}
	for i, wa := range rep.WeakAreas {
		if i == maxWeakBars {
			break
		}
		y += 32
		label := fmt.Sprintf("%s  %d/%d", wa.Category, wa.TotalCount-wa.WrongCount, wa.TotalCount)
		r.bar(dc, label, wa.Percentage, weakColor, y)
		y += 14
	}

	// strengths
	y += 44
	dc.SetColor(ink)
	dc.SetFontFace(r.face(r.bold, 22))
	dc.DrawString("Strengths", margin, y)
	y += 30
	dc.SetFontFace(r.face(r.regular, 18))
	strengths := "None yet"
	if len(rep.Strengths) > 0 {
		strengths = strings.Join(rep.Strengths, ", ")
	}
	dc.SetColor(muted)
	dc.DrawStringWrapped(strengths, margin, y, 0, 0, Width-2*margin, 1.4, gg.AlignLeft)

	r.footer(dc, rep.Recommendations, y+50)
	return dc.EncodePNG(w)
}

// RenderInsight writes the card of an insight discovery profile as PNG.
func (r *Renderer) RenderInsight(w io.Writer, title string, p *reporting.InsightProfile) error {
	if p == nil {
		return fmt.Errorf("profile is required")
	}
	dc := r.canvas(title, "Colour energy profile")

	var banner color.Color = muted
	headline := "No colour profile"
	if c, ok := energyColors[p.DominantColor.Color]; ok {
		banner = c
		headline = fmt.Sprintf("%s %d%%", p.DominantColor.Name, p.DominantColor.Percentage)
	}
	dc.SetColor(banner)
	dc.DrawRoundedRectangle(margin, 170, Width-2*margin, 90, 16)
	dc.Fill()
	dc.SetColor(color.White)
	dc.SetFontFace(r.face(r.bold, 30))
	dc.DrawStringAnchored(headline, Width/2, 215, 0.5, 0.35)

	y := 300.0
	dc.SetFontFace(r.face(r.regular, 18))
	for _, s := range p.ColorScores {
		y += 36
		r.bar(dc, s.Name, s.Percentage, energyColors[s.Color], y)
		y += 14
	}

	y += 50
	dc.SetColor(ink)
	dc.SetFontFace(r.face(r.bold, 22))
	dc.DrawString("Working style", margin, y)
	dc.SetColor(muted)
	dc.SetFontFace(r.face(r.regular, 18))
	dc.DrawStringWrapped(p.WorkingStyle, margin, y+14, 0, 0, Width-2*margin, 1.4, gg.AlignLeft)

	r.footer(dc, p.Recommendations, y+90)
	return dc.EncodePNG(w)
}

func (r *Renderer) canvas(title, subtitle string) *gg.Context {
	dc := gg.NewContext(Width, Height)
	dc.SetColor(background)
	dc.Clear()

	dc.SetColor(ink)
	dc.DrawRectangle(0, 0, Width, 110)
	dc.Fill()
	dc.SetColor(color.White)
	dc.SetFontFace(r.face(r.bold, 32))
	dc.DrawString(truncate(dc, title, Width-2*margin), margin, 58)
	dc.SetFontFace(r.face(r.regular, 18))
	dc.DrawString(subtitle, margin, 90)
	return dc
}

// bar draws a labelled horizontal percentage bar with its baseline at y.
func (r *Renderer) bar(dc *gg.Context, label string, pct int, fill color.Color, y float64) {
	const barX, barW, barH = 300.0, 380.0, 16.0
	dc.SetColor(ink)
	dc.DrawString(truncate(dc, label, barX-margin-12), margin, y)
	dc.SetColor(track)
	dc.DrawRoundedRectangle(barX, y-barH+2, barW, barH, barH/2)
	dc.Fill()
	if pct > 0 {
		dc.SetColor(fill)
		dc.DrawRoundedRectangle(barX, y-barH+2, barW*float64(clamp(pct, 0, 100))/100, barH, barH/2)
		dc.Fill()
	}
	dc.SetColor(muted)
	dc.DrawStringAnchored(fmt.Sprintf("%d%%", pct), barX+barW+12, y, 0, 0)
}

// footer draws the recommendations, cut to the space left on the card.
func (r *Renderer) footer(dc *gg.Context, text string, top float64) {
	dc.SetColor(ink)
	dc.SetFontFace(r.face(r.bold, 22))
	dc.DrawString("Recommendations", margin, top)

	dc.SetFontFace(r.face(r.regular, 16))
	lines := dc.WordWrap(text, Width-2*margin)
	lineHeight := dc.FontHeight() * 1.5
	available := int((Height - margin - top - 16) / lineHeight)
	if available < 0 {
		available = 0
	}
	if len(lines) > available {
		lines = lines[:available]
		if available > 0 {
			lines[available-1] = strings.TrimRight(lines[available-1], " .") + "..."
		}
	}
	dc.SetColor(muted)
	y := top + 16
	for _, l := range lines {
		y += lineHeight
		dc.DrawString(l, margin, y)
	}
}

func truncate(dc *gg.Context, s string, width float64) string {
	if w, _ := dc.MeasureString(s); w <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := strings.TrimSpace(string(runes)) + "..."
		if w, _ := dc.MeasureString(candidate); w <= width {
			return candidate
		}
	}
	return ""
}

func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dm %02ds", seconds/60, seconds%60)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
