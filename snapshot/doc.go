// Package snapshot turns a rendered quotation page into a downloadable JPEG.
//
// A Page models one page load. A Trigger registered on it looks up the
// #cotizacion-print element when the page signals ready, rasterizes it
// through an injected Rasterizer, encodes the raster as a JPEG data URI and
// hands the result to a Downloader as cotizacion_<correlativo>.jpg.
// Missing elements and a missing rasterizer are silent no-ops; rasterizer
// failures are logged and returned.
//
// Exporter runs that flow once per request, records each attempt with a
// Tracker, archives downloads to an ArtifactStore when one is configured
// and forwards completed downloads to an optional Notify downloader.
// Cleanup removes records and artifacts whose RetentionRules TTL elapsed.
package snapshot
