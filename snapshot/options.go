package snapshot

import (
	"fmt"
	"strings"
)

const (
	defaultScale = 1.0
	maxScale     = 4.0
)

// Options configures a rasterization call.
// Zero Width/Height mean the element's natural size.
type Options struct {
	Scale           float64
	UseCORS         bool
	Width           int
	Height          int
	WindowWidth     int
	WindowHeight    int
	BackgroundColor string
	Quality         float64
	MaxDimension    int
}

// Layout names a rasterization preset.
type Layout string

const (
	LayoutFixed   Layout = "fixed"
	LayoutNatural Layout = "natural"
)

const (
	fixedWidth  = 1305
	fixedHeight = 1485
)

// FixedLayout renders a fixed 1305x1485 surface at scale 1 on white.
func FixedLayout() Options {
	return Options{
		Scale:           1,
		UseCORS:         true,
		Width:           fixedWidth,
		Height:          fixedHeight,
		WindowWidth:     fixedWidth,
		WindowHeight:    fixedHeight,
		BackgroundColor: "#ffffff",
	}
}

// NaturalLayout renders the element at its natural size and scale 2.
func NaturalLayout() Options {
	return Options{
		Scale:   2,
		UseCORS: true,
	}
}

// OptionsForLayout resolves a preset by name.
func OptionsForLayout(layout Layout) (Options, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(string(layout)))) {
	case LayoutFixed, "":
		return FixedLayout(), nil
	case LayoutNatural:
		return NaturalLayout(), nil
	default:
		return Options{}, NewError(KindValidation, fmt.Sprintf("unknown layout: %s", layout), nil)
	}
}

// MergeOptions overlays the non-zero fields of override on base.
func MergeOptions(base, override Options) Options {
	merged := base
	if override.Scale != 0 {
		merged.Scale = override.Scale
	}
	if override.UseCORS {
		merged.UseCORS = true
	}
	if override.Width != 0 {
		merged.Width = override.Width
	}
	if override.Height != 0 {
		merged.Height = override.Height
	}
	if override.WindowWidth != 0 {
		merged.WindowWidth = override.WindowWidth
	}
	if override.WindowHeight != 0 {
		merged.WindowHeight = override.WindowHeight
	}
	if override.BackgroundColor != "" {
		merged.BackgroundColor = override.BackgroundColor
	}
	if override.Quality != 0 {
		merged.Quality = override.Quality
	}
	if override.MaxDimension != 0 {
		merged.MaxDimension = override.MaxDimension
	}
	return merged
}

// Normalize fills defaults and validates ranges.
func (o Options) Normalize() (Options, error) {
	if o.Scale == 0 {
		o.Scale = defaultScale
	}
	if o.Scale < 0.1 || o.Scale > maxScale {
		return o, NewError(KindValidation, fmt.Sprintf("scale must be between 0.1 and %.0f", maxScale), nil)
	}
	if o.Width < 0 || o.Height < 0 || o.WindowWidth < 0 || o.WindowHeight < 0 {
		return o, NewError(KindValidation, "dimensions must not be negative", nil)
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if o.Quality <= 0 || o.Quality > 1 {
		return o, NewError(KindValidation, "quality must be within (0, 1]", nil)
	}
	if o.MaxDimension < 0 {
		return o, NewError(KindValidation, "max dimension must not be negative", nil)
	}
	if o.BackgroundColor != "" {
		if _, err := ParseColor(o.BackgroundColor); err != nil {
			return o, err
		}
	}
	return o, nil
}

// FixedSize reports whether explicit output dimensions are set.
func (o Options) FixedSize() bool {
	return o.Width > 0 && o.Height > 0
}

// Page variants. The interna page carries costs and is rendered at its
// natural size; the cliente page uses the fixed surface.
const (
	VariantCliente = "cliente"
	VariantInterna = "interna"
)

// DefaultLayout returns the layout for a variant when none is requested.
func DefaultLayout(variant string) Layout {
	if strings.EqualFold(strings.TrimSpace(variant), VariantInterna) {
		return LayoutNatural
	}
	return LayoutFixed
}
