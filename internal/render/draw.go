package render

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	minFontSize    = 8
	fontHeightFrac = 0.6
	translucentBG  = 180
)

// fallbackFonts are tried when no font is configured. The bundled Go font
// lacks CJK glyphs, so system CJK fonts come first.
var fallbackFonts = []string{
	"/usr/share/fonts/truetype/wqy/wqy-microhei.ttc",
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/noto-cjk/NotoSansCJK-Regular.ttc",
	"/System/Library/Fonts/PingFang.ttc",
}

// Typeface is a parsed font shared by all render runs.
type Typeface struct {
	font *opentype.Font
	name string
}

// LoadTypeface parses the font at path. An empty path tries the system CJK
// fonts and then the bundled Go Regular font.
func LoadTypeface(path string) (*Typeface, error) {
	if path != "" {
		return parseFontFile(path)
	}
	for _, p := range fallbackFonts {
		if _, err := os.Stat(p); err == nil {
			if tf, err := parseFontFile(p); err == nil {
				return tf, nil
			}
		}
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return &Typeface{font: f, name: "goregular"}, nil
}

func parseFontFile(path string) (*Typeface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".ttc") {
		coll, err := opentype.ParseCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parse font collection %s: %w", path, err)
		}
		f, err := coll.Font(0)
		if err != nil {
			return nil, fmt.Errorf("font collection %s: %w", path, err)
		}
		return &Typeface{font: f, name: filepath.Base(path)}, nil
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	return &Typeface{font: f, name: filepath.Base(path)}, nil
}

func (t *Typeface) Name() string { return t.name }

// Style selects overlay colors.
type Style struct {
	Background  string // "black" or "white"
	Translucent bool
}

func (s Style) colors() (bg, fg color.Color) {
	alpha := uint8(255)
	if s.Translucent {
		alpha = translucentBG
	}
	if s.Background == "white" {
		return color.NRGBA{255, 255, 255, alpha}, color.Black
	}
	return color.NRGBA{0, 0, 0, alpha}, color.White
}

// painter draws overlays for a single run. Faces are not safe for concurrent
// use, so each run gets its own.
type painter struct {
	typeface *Typeface
	faces    map[int]font.Face
	style    Style
}

func (t *Typeface) painter(style Style) *painter {
	return &painter{typeface: t, faces: make(map[int]font.Face), style: style}
}

func (p *painter) face(size int) (font.Face, error) {
	if f, ok := p.faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(p.typeface.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	p.faces[size] = f
	return f, nil
}

func (p *painter) close() {
	for _, f := range p.faces {
		f.Close()
	}
}

// fit picks the largest size not above fontHeightFrac of the per-line height
// at which every line fits the box width.
func (p *painter) fit(lines []string, r image.Rectangle) (font.Face, error) {
	size := int(float64(r.Dy()) * fontHeightFrac / float64(len(lines)))
	if size < minFontSize {
		size = minFontSize
	}
	for {
		face, err := p.face(size)
		if err != nil {
			return nil, err
		}
		if size <= minFontSize || widest(face, lines) <= fixed.I(r.Dx()) {
			return face, nil
		}
		size = max(minFontSize, size*9/10)
	}
}

func widest(face font.Face, lines []string) fixed.Int26_6 {
	var w fixed.Int26_6
	for _, l := range lines {
		w = max(w, font.MeasureString(face, l))
	}
	return w
}

// draw fills the overlay box and centers its text in it. Drawing is clipped
// to the box.
func (p *painter) draw(img *image.RGBA, ov Overlay) error {
	r := image.Rect(ov.Box.XMin, ov.Box.YMin, ov.Box.XMax, ov.Box.YMax).Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	bg, fg := p.style.colors()
	draw.Draw(img, r, image.NewUniform(bg), image.Point{}, draw.Over)

	lines := strings.Split(strings.TrimSpace(ov.Text), "\n")
	face, err := p.fit(lines, r)
	if err != nil {
		return err
	}

	m := face.Metrics()
	lineHeight := m.Ascent + m.Descent
	total := lineHeight * fixed.Int26_6(len(lines))
	y := fixed.I(r.Min.Y) + (fixed.I(r.Dy())-total)/2 + m.Ascent

	d := font.Drawer{
		Dst:  img.SubImage(r).(*image.RGBA),
		Src:  image.NewUniform(fg),
		Face: face,
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		adv := font.MeasureString(face, line)
		d.Dot = fixed.Point26_6{X: fixed.I(r.Min.X) + (fixed.I(r.Dx())-adv)/2, Y: y}
		d.DrawString(line)
		y += lineHeight
	}
	return nil
}
