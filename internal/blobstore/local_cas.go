package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const casAlgorithmPrefix = "blake2b"

// LocalCAS stores attachment bytes in a local tree addressed by BLAKE2b-256.
// Identical payloads share one file, so several content rows may name the
// same key.
type LocalCAS struct {
	root string
}

var _ BlobStore = (*LocalCAS)(nil)

// NewLocalCAS creates a local CAS rooted at root.
func NewLocalCAS(root string) (*LocalCAS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local cas root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, "tmp"), 0o755); err != nil {
		return nil, err
	}
	return &LocalCAS{root: abs}, nil
}

// Put streams r into a temp file while hashing it, then moves it to its
// digest-derived key.
func (c *LocalCAS) Put(ctx context.Context, r io.Reader) (PutResult, error) {
	var zero PutResult
	if c == nil {
		return zero, fmt.Errorf("blob store is not configured")
	}
	if r == nil {
		return zero, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	tmp, err := os.CreateTemp(filepath.Join(c.root, "tmp"), "put-*")
	if err != nil {
		return zero, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		cleanup()
		return zero, err
	}
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		cleanup()
		return zero, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return zero, err
	}

	digest := hex.EncodeToString(h.Sum(nil))
	key := casKeyFromDigest(digest)
	dst := filepath.Join(c.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		cleanup()
		return zero, err
	}

	// An existing blob is touched so DeleteIfIdle treats it as in use. If it
	// vanished in between, the new copy is moved into place below.
	now := time.Now()
	if err := os.Chtimes(dst, now, now); err == nil {
		_ = os.Remove(tmpPath)
		return PutResult{Digest: digest, SizeBytes: n, Key: key}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		cleanup()
		return zero, err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		if _, statErr := os.Stat(dst); statErr == nil {
			_ = os.Remove(tmpPath)
			return PutResult{Digest: digest, SizeBytes: n, Key: key}, nil
		}
		cleanup()
		return zero, err
	}

	return PutResult{Digest: digest, SizeBytes: n, Key: key}, nil
}

// Open returns a reader for blob key content.
func (c *LocalCAS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if c == nil {
		return nil, fmt.Errorf("blob store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := c.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Size returns the stored byte count of key.
func (c *LocalCAS) Size(ctx context.Context, key string) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("blob store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := c.pathFromKey(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes a blob object. Missing files are ignored.
func (c *LocalCAS) Delete(ctx context.Context, key string) error {
	if c == nil {
		return fmt.Errorf("blob store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := c.pathFromKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// DeleteIfIdle moves the blob aside, then removes it only if its mtime is
// not after idleSince. A blob touched by a concurrent Put is moved back. A Put
// that runs while the blob is aside writes a fresh copy under the same key.
func (c *LocalCAS) DeleteIfIdle(ctx context.Context, key string, idleSince time.Time) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("blob store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := c.pathFromKey(key)
	if err != nil {
		return false, err
	}
	aside, err := os.CreateTemp(filepath.Join(c.root, "tmp"), "delete-*")
	if err != nil {
		return false, err
	}
	asidePath := aside.Name()
	_ = aside.Close()

	if err := os.Rename(path, asidePath); err != nil {
		_ = os.Remove(asidePath)
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	info, err := os.Stat(asidePath)
	if err != nil {
		return false, err
	}
	if info.ModTime().After(idleSince) {
		// Same key means same bytes, so restoring over a concurrent copy is safe.
		if err := os.Rename(asidePath, path); err != nil {
			return false, fmt.Errorf("restore blob %s: %w", key, err)
		}
		return false, nil
	}
	if err := os.Remove(asidePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, nil
}

// HashBytes returns the hex BLAKE2b-256 digest used for keys and dedupe.
func HashBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func casKeyFromDigest(digest string) string {
	return fmt.Sprintf("%s/%s/%s/%s", casAlgorithmPrefix, digest[0:2], digest[2:4], digest)
}

func (c *LocalCAS) pathFromKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("blob key is required")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("blob key must be relative")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || strings.Contains(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key")
	}
	return filepath.Join(c.root, clean), nil
}
