// Package pipeline hands files from one tool to another. A producing tool
// registers a file and receives an unguessable token; a consuming tool
// redeems the token for the file until it expires.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cakisi/internal/observability"
	"cakisi/internal/ttlstore"
)

const (
	// DefaultTTL is how long a pipeline file stays redeemable.
	DefaultTTL = 10 * time.Minute

	// DirName is the pipeline directory created under the temp dir.
	DirName = "isvicre-cakisi-pipeline"

	tokenBytes = 32
	sniffBytes = 512
)

// ErrSourceNotFound is returned by Create when the source path is missing or
// is not a regular file.
var ErrSourceNotFound = errors.New("pipeline: source file not found")

// File is a registered pipeline file.
type File struct {
	ID           string        `json:"pipeline_id"`
	Path         string        `json:"-"`
	SourceTool   string        `json:"source_tool"`
	MimeType     string        `json:"mime_type"`
	OriginalName string        `json:"original_name"`
	CreatedAt    time.Time     `json:"created_at"`
	TTL          time.Duration `json:"-"`
}

// ExpiresAt returns the instant after which the file can no longer be resolved.
func (f *File) ExpiresAt() time.Time {
	return f.CreatedAt.Add(f.TTL)
}

// CreateParams describes a file to hand off.
type CreateParams struct {
	SourceTool string
	SourcePath string
	// MimeType is sniffed from content when empty.
	MimeType string
	// TTL falls back to the registry default when zero.
	TTL time.Duration
	// OriginalName defaults to the base name of SourcePath.
	OriginalName string
}

// Config configures a Registry.
type Config struct {
	// Dir holds the copied files. Created if missing.
	Dir string
	// DefaultTTL applies when CreateParams.TTL is zero.
	DefaultTTL time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry tracks pipeline files by token.
type Registry struct {
	dir        string
	defaultTTL time.Duration
	now        func() time.Time
	files      *ttlstore.Store[*File]
}

// New creates a Registry and its storage directory.
func New(cfg Config, opts ...Option) (*Registry, error) {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), DirName)
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("pipeline: create dir: %w", err)
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	r := &Registry{
		dir:        dir,
		defaultTTL: ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.files = ttlstore.New(
		ttlstore.WithClock[*File](r.now),
		ttlstore.WithEvictionCallback(r.onEvict),
	)
	return r, nil
}

// Dir returns the absolute storage directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Create copies the source file into the pipeline directory and returns a
// token that resolves to the copy. The source is left untouched. On failure
// no record is created and no partial copy is left behind.
func (r *Registry) Create(ctx context.Context, p CreateParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(p.SourcePath)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, p.SourcePath)
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}

	name := p.OriginalName
	if name == "" {
		name = filepath.Base(p.SourcePath)
	}
	ext := safeExt(p.SourcePath)
	if ext == "" {
		ext = safeExt(name)
	}

	dest := filepath.Join(r.dir, token+ext)
	head, err := copyFile(p.SourcePath, dest, info.ModTime())
	if err != nil {
		return "", fmt.Errorf("pipeline: copy %s: %w", p.SourcePath, err)
	}

	mimeType := p.MimeType
	if mimeType == "" {
		mimeType = detectMime(head, ext)
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	f := &File{
		ID:           token,
		Path:         dest,
		SourceTool:   p.SourceTool,
		MimeType:     mimeType,
		OriginalName: name,
		CreatedAt:    r.now(),
		TTL:          ttl,
	}
	if !r.files.PutIfAbsent(token, f, ttl) {
		_ = os.Remove(dest)
		return "", errors.New("pipeline: token collision")
	}

	observability.PipelineFiles.WithLabelValues("created").Inc()
	slog.Debug("pipeline file created",
		"source_tool", p.SourceTool,
		"mime_type", mimeType,
		"ttl", ttl,
		"size", info.Size(),
	)
	return token, nil
}

// Resolve returns the file for token. Unknown, expired and orphaned tokens
// all report false; expired and orphaned records are pruned on the way.
func (r *Registry) Resolve(token string) (*File, bool) {
	if !validToken(token) {
		return nil, false
	}

	f, ok := r.files.Get(token)
	if !ok {
		return nil, false
	}
	if _, err := os.Stat(f.Path); err != nil {
		observability.PipelineFiles.WithLabelValues("orphaned").Inc()
		slog.Warn("pipeline file missing on disk", "source_tool", f.SourceTool, "error", err)
		r.files.Delete(token)
		return nil, false
	}

	observability.PipelineFiles.WithLabelValues("resolved").Inc()
	cp := *f
	return &cp, true
}

// Sweep deletes every expired file and record and returns how many were
// removed.
func (r *Registry) Sweep() int {
	n := r.files.Sweep()
	if n > 0 {
		observability.PipelineFiles.WithLabelValues("swept").Add(float64(n))
		slog.Info("pipeline sweep", "removed", n)
	}
	return n
}

// Stats is a snapshot of the registry.
type Stats struct {
	Total      int    `json:"total_files"`
	Active     int    `json:"active_files"`
	Expired    int    `json:"expired_pending_cleanup"`
	StorageDir string `json:"storage_dir"`
}

// Stats counts live and expired records.
func (r *Registry) Stats() Stats {
	s := Stats{StorageDir: r.dir}
	r.files.Range(func(_ string, _ *File, expired bool) bool {
		s.Total++
		if expired {
			s.Expired++
		} else {
			s.Active++
		}
		return true
	})
	return s
}

// Close removes every remaining file and record.
func (r *Registry) Close() error {
	n := r.files.Clear()
	if n > 0 {
		slog.Info("pipeline files removed at shutdown", "count", n)
	}
	return nil
}

func (r *Registry) onEvict(_ string, f *File, reason ttlstore.Reason) {
	if reason == ttlstore.Expired {
		observability.PipelineFiles.WithLabelValues("expired").Inc()
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove pipeline file", "path", f.Path, "error", err)
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("pipeline: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// validToken reports whether s could have been produced by newToken.
func validToken(s string) bool {
	if len(s) != base64.RawURLEncoding.EncodedLen(tokenBytes) {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// safeExt returns the extension of name if it is short and alphanumeric.
func safeExt(name string) string {
	ext := filepath.Ext(name)
	if len(ext) < 2 || len(ext) > 16 {
		return ""
	}
	for _, c := range ext[1:] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}

// copyFile copies src to dst, which must not exist, and returns up to the
// first 512 bytes for content sniffing. dst is removed on any failure.
func copyFile(src, dst string, modTime time.Time) (head []byte, err error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	buf := make([]byte, sniffBytes)
	n, err := io.ReadFull(in, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	head = buf[:n]
	if _, err = out.Write(head); err != nil {
		return nil, err
	}
	if _, err = io.Copy(out, in); err != nil {
		return nil, err
	}
	if err = out.Close(); err != nil {
		return nil, err
	}
	_ = os.Chtimes(dst, modTime, modTime)
	return head, nil
}

func detectMime(head []byte, ext string) string {
	sniffed := http.DetectContentType(head)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
		return sniffed
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	return sniffed
}
