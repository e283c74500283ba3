package snapshot

import (
	"strconv"
	"time"
)

// Correlativo returns the element's data-correlativo, falling back to the
// millisecond timestamp when the attribute is missing or empty.
func Correlativo(el Element, now time.Time) string {
	if el != nil {
		if value, ok := el.Attr(CorrelativoAttr); ok && value != "" {
			return value
		}
	}
	return strconv.FormatInt(now.UnixMilli(), 10)
}

// Filename builds cotizacion_<correlativo>.jpg.
func Filename(correlativo string) string {
	return FilenamePrefix + correlativo + ".jpg"
}
