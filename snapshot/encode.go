package snapshot

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"strconv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

var defaultBackground = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

var namedColors = map[string]color.NRGBA{
	"white":       defaultBackground,
	"black":       {A: 0xff},
	"transparent": {},
}

// ParseColor parses #rgb, #rrggbb, rgb()/rgba() and a few named colors.
func ParseColor(value string) (color.NRGBA, error) {
	raw := strings.ToLower(strings.TrimSpace(value))
	if raw == "" {
		return defaultBackground, nil
	}
	if c, ok := namedColors[raw]; ok {
		return c, nil
	}
	if strings.HasPrefix(raw, "#") {
		parsed, err := colorful.Hex(raw)
		if err != nil {
			return color.NRGBA{}, NewError(KindValidation, fmt.Sprintf("invalid color: %s", value), err)
		}
		r, g, b := parsed.Clamped().RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
	}
	if strings.HasPrefix(raw, "rgb") {
		return parseRGBFunc(value, raw)
	}
	return color.NRGBA{}, NewError(KindValidation, fmt.Sprintf("invalid color: %s", value), nil)
}

func parseRGBFunc(original, raw string) (color.NRGBA, error) {
	open := strings.IndexByte(raw, '(')
	end := strings.LastIndexByte(raw, ')')
	if open < 0 || end <= open {
		return color.NRGBA{}, NewError(KindValidation, fmt.Sprintf("invalid color: %s", original), nil)
	}
	parts := strings.Split(raw[open+1:end], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return color.NRGBA{}, NewError(KindValidation, fmt.Sprintf("invalid color: %s", original), nil)
	}

	channels := [3]uint8{}
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || v < 0 || v > 255 {
			return color.NRGBA{}, NewError(KindValidation, fmt.Sprintf("invalid color: %s", original), err)
		}
		channels[i] = uint8(v)
	}

	alpha := uint8(0xff)
	if len(parts) == 4 {
		a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || a < 0 || a > 1 {
			return color.NRGBA{}, NewError(KindValidation, fmt.Sprintf("invalid color: %s", original), err)
		}
		alpha = uint8(math.Round(a * 255))
	}
	return color.NRGBA{R: channels[0], G: channels[1], B: channels[2], A: alpha}, nil
}

// JPEGQuality converts a 0..1 quality to the encoder's 1..100 scale.
func JPEGQuality(q float64) int {
	if q <= 0 {
		q = DefaultQuality
	}
	quality := int(math.Round(q * 100))
	if quality < 1 {
		return 1
	}
	if quality > 100 {
		return 100
	}
	return quality
}

// EncodeJPEG flattens img onto the background and encodes it as JPEG.
func EncodeJPEG(img image.Image, opts Options) ([]byte, error) {
	if img == nil {
		return nil, NewError(KindInternal, "raster is nil", nil)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, NewError(KindInternal, "raster is empty", nil)
	}

	bg, err := ParseColor(opts.BackgroundColor)
	if err != nil {
		return nil, err
	}
	if bg.A < 0xff {
		// JPEG carries no alpha; blend translucent backgrounds over white.
		bg = blendOverWhite(bg)
	}

	flat := flatten(img, bg)
	if opts.MaxDimension > 0 {
		flat = clamp(flat, opts.MaxDimension)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: JPEGQuality(opts.Quality)}); err != nil {
		return nil, NewError(KindInternal, "jpeg encode failed", err)
	}
	return buf.Bytes(), nil
}

// DataURI wraps JPEG bytes into a data URI.
func DataURI(data []byte) string {
	return DataURIPrefix + base64.StdEncoding.EncodeToString(data)
}

// EncodeDataURI encodes img as a JPEG data URI, returning the raw bytes too.
func EncodeDataURI(img image.Image, opts Options) (string, []byte, error) {
	data, err := EncodeJPEG(img, opts)
	if err != nil {
		return "", nil, err
	}
	return DataURI(data), data, nil
}

func flatten(img image.Image, bg color.NRGBA) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}

func clamp(img *image.RGBA, maxDim int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxDim {
		return img
	}
	ratio := float64(maxDim) / float64(longest)
	nw := int(math.Max(1, math.Round(float64(w)*ratio)))
	nh := int(math.Max(1, math.Round(float64(h)*ratio)))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func blendOverWhite(c color.NRGBA) color.NRGBA {
	a := float64(c.A) / 255
	mix := func(v uint8) uint8 {
		return uint8(math.Round(float64(v)*a + 255*(1-a)))
	}
	return color.NRGBA{R: mix(c.R), G: mix(c.G), B: mix(c.B), A: 0xff}
}
