// Package storefs keeps snapshot JPEGs on the local filesystem.
package storefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-cotizaciones/snapshot"
)

const metaSuffix = ".meta.json"

// Store provides filesystem-backed artifact storage. It also acts as a
// snapshot.Downloader that writes each download under DownloadDir.
type Store struct {
	Root        string
	DownloadDir string
	Now         func() time.Time
}

// NewStore creates a filesystem-backed artifact store.
func NewStore(root string) *Store {
	return &Store{Root: root, Now: time.Now}
}

type sidecar struct {
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Put stores an artifact on disk.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, meta snapshot.ArtifactMeta) (snapshot.ArtifactRef, error) {
	if err := s.check(key); err != nil {
		return snapshot.ArtifactRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return snapshot.ArtifactRef{}, err
	}

	pathOnDisk, err := s.resolvePath(key)
	if err != nil {
		return snapshot.ArtifactRef{}, err
	}
	size, err := writeAtomic(pathOnDisk, r)
	if err != nil {
		return snapshot.ArtifactRef{}, snapshot.NewError(snapshot.KindInternal, fmt.Sprintf("write artifact %q failed", key), err)
	}

	meta.Size = size
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now()
	}
	if meta.ContentType == "" {
		meta.ContentType = mime.TypeByExtension(filepath.Ext(pathOnDisk))
	}
	if meta.Filename == "" {
		meta.Filename = path.Base(key)
	}

	payload, err := json.Marshal(sidecar(meta))
	if err != nil {
		return snapshot.ArtifactRef{}, err
	}
	if _, err := writeAtomic(pathOnDisk+metaSuffix, bytes.NewReader(payload)); err != nil {
		return snapshot.ArtifactRef{}, snapshot.NewError(snapshot.KindInternal, fmt.Sprintf("write artifact meta %q failed", key), err)
	}
	return snapshot.ArtifactRef{Key: key, Meta: meta}, nil
}

// Open reads an artifact from disk.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, snapshot.ArtifactMeta, error) {
	_ = ctx
	if err := s.check(key); err != nil {
		return nil, snapshot.ArtifactMeta{}, err
	}
	pathOnDisk, err := s.resolvePath(key)
	if err != nil {
		return nil, snapshot.ArtifactMeta{}, err
	}

	file, err := os.Open(pathOnDisk)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, snapshot.ArtifactMeta{}, snapshot.NewError(snapshot.KindNotFound, fmt.Sprintf("artifact %q not found", key), err)
		}
		return nil, snapshot.ArtifactMeta{}, err
	}

	meta := readMeta(pathOnDisk)
	if meta.ContentType == "" {
		meta.ContentType = mime.TypeByExtension(filepath.Ext(pathOnDisk))
	}
	if meta.Size == 0 {
		if info, err := file.Stat(); err == nil {
			meta.Size = info.Size()
			if meta.CreatedAt.IsZero() {
				meta.CreatedAt = info.ModTime()
			}
		}
	}
	return file, meta, nil
}

// Delete removes an artifact and its sidecar.
func (s *Store) Delete(ctx context.Context, key string) error {
	_ = ctx
	if err := s.check(key); err != nil {
		return err
	}
	pathOnDisk, err := s.resolvePath(key)
	if err != nil {
		return err
	}
	_ = os.Remove(pathOnDisk)
	_ = os.Remove(pathOnDisk + metaSuffix)
	// Drop the per-record directory once it is empty.
	if root, err := filepath.Abs(s.Root); err == nil {
		if dir := filepath.Dir(pathOnDisk); dir != root {
			_ = os.Remove(dir)
		}
	}
	return nil
}

// List returns the refs stored under prefix, sorted by key.
func (s *Store) List(ctx context.Context, prefix string) ([]snapshot.ArtifactRef, error) {
	if s == nil || s.Root == "" {
		return nil, snapshot.NewError(snapshot.KindValidation, "store root is required", nil)
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, err
	}
	base := root
	if strings.Trim(prefix, "/") != "" {
		if base, err = s.resolvePath(prefix); err != nil {
			return nil, err
		}
	}

	refs := []snapshot.ArtifactRef{}
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		meta := readMeta(p)
		if meta.Size == 0 {
			if info, err := d.Info(); err == nil {
				meta.Size = info.Size()
			}
		}
		refs = append(refs, snapshot.ArtifactRef{Key: filepath.ToSlash(rel), Meta: meta})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

// Download writes d to DownloadDir (or Root) under its filename.
func (s *Store) Download(ctx context.Context, d snapshot.Download) error {
	if d.Filename == "" {
		return snapshot.NewError(snapshot.KindValidation, "download filename is required", nil)
	}
	if strings.ContainsAny(d.Filename, `/\`) || d.Filename == ".." {
		return snapshot.NewError(snapshot.KindValidation, fmt.Sprintf("download filename %q must not contain a path", d.Filename), nil)
	}
	key := snapshot.ArtifactKey(s.DownloadDir, d.Filename)
	_, err := s.Put(ctx, key, bytes.NewReader(d.Data), snapshot.ArtifactMeta{
		ContentType: d.ContentType,
		Filename:    d.Filename,
		CreatedAt:   d.CreatedAt,
	})
	return err
}

func (s *Store) check(key string) error {
	if s == nil {
		return snapshot.NewError(snapshot.KindInternal, "store is nil", nil)
	}
	if s.Root == "" {
		return snapshot.NewError(snapshot.KindValidation, "store root is required", nil)
	}
	if key == "" {
		return snapshot.NewError(snapshot.KindValidation, "artifact key is required", nil)
	}
	return nil
}

func (s *Store) resolvePath(key string) (string, error) {
	clean := path.Clean("/" + key)
	rel := strings.TrimPrefix(clean, "/")
	if rel == "" || rel == "." {
		return "", snapshot.NewError(snapshot.KindValidation, "invalid artifact key", nil)
	}

	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", err
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) && target != root {
		return "", snapshot.NewError(snapshot.KindValidation, "artifact key escapes root", nil)
	}
	return target, nil
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// writeAtomic copies r to a temp file next to target and renames it.
func writeAtomic(target string, r io.Reader) (int64, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	return size, os.Rename(tmp.Name(), target)
}

func readMeta(pathOnDisk string) snapshot.ArtifactMeta {
	data, err := os.ReadFile(pathOnDisk + metaSuffix)
	if err != nil {
		return snapshot.ArtifactMeta{}
	}
	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return snapshot.ArtifactMeta{}
	}
	return snapshot.ArtifactMeta(meta)
}
