package snapshot

import (
	"bytes"
	"context"
	"path"
	"sync"
)

// MultiDownloader fans a download out to every downloader in order and
// stops at the first error.
type MultiDownloader []Downloader

func (m MultiDownloader) Download(ctx context.Context, d Download) error {
	for _, downloader := range m {
		if downloader == nil {
			continue
		}
		if err := downloader.Download(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// CaptureDownloader keeps the last download in memory.
type CaptureDownloader struct {
	mu    sync.Mutex
	last  Download
	count int
}

func (c *CaptureDownloader) Download(ctx context.Context, d Download) error {
	_ = ctx
	c.mu.Lock()
	c.last = d
	c.count++
	c.mu.Unlock()
	return nil
}

// Last returns the captured download and whether one was received.
func (c *CaptureDownloader) Last() (Download, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.count > 0
}

// Count returns how many downloads were received.
func (c *CaptureDownloader) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// StoreDownloader archives downloads in an ArtifactStore under Prefix.
type StoreDownloader struct {
	Store  ArtifactStore
	Prefix string

	mu      sync.Mutex
	lastKey string
}

func (s *StoreDownloader) Download(ctx context.Context, d Download) error {
	if s == nil || s.Store == nil {
		return NewError(KindInternal, "artifact store is not configured", nil)
	}
	key := ArtifactKey(s.Prefix, d.Filename)
	_, err := s.Store.Put(ctx, key, bytes.NewReader(d.Data), ArtifactMeta{
		ContentType: d.ContentType,
		Filename:    d.Filename,
		CreatedAt:   d.CreatedAt,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastKey = key
	s.mu.Unlock()
	return nil
}

// LastKey returns the key of the last archived download.
func (s *StoreDownloader) LastKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKey
}

// ArtifactKey joins a prefix and filename into a store key.
func ArtifactKey(prefix, filename string) string {
	if prefix == "" {
		return filename
	}
	return path.Join(prefix, filename)
}
