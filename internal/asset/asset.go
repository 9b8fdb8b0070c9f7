// Package asset maintains a content-addressed cache of downloaded test
// assets. Entries are keyed by their SHA-256 digest, so the same content
// referenced from different URLs occupies one cache slot, and a cached
// file is never trusted without its digest checking out first.
package asset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"grimm.is/bootlab/internal/brand"
	"grimm.is/bootlab/internal/logging"
)

// Asset names one remote file and the digest its content must have.
// The digest is the identity; the URL is only where to find it.
type Asset struct {
	Name   string
	URL    string
	SHA256 string
}

func (a Asset) validate() error {
	if a.URL == "" {
		return fmt.Errorf("asset %q has no URL", a.Name)
	}
	if len(a.SHA256) != sha256.Size*2 {
		return fmt.Errorf("asset %q: digest must be %d hex characters, got %d", a.Name, sha256.Size*2, len(a.SHA256))
	}
	if _, err := hex.DecodeString(a.SHA256); err != nil {
		return fmt.Errorf("asset %q: digest is not hex: %v", a.Name, err)
	}
	return nil
}

// Store resolves assets against a cache directory.
type Store struct {
	dir    string
	client *http.Client
	log    *logging.Logger
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	return NewWithClient(dir, &http.Client{Timeout: 30 * time.Minute})
}

// NewWithClient is New with a caller-supplied HTTP client, mainly for
// tests that point the store at a local server.
func NewWithClient(dir string, client *http.Client) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Store{
		dir:    dir,
		client: client,
		log:    logging.WithComponent("asset"),
	}, nil
}

// Path returns where a resolved copy of the asset lives, whether or not
// it has been fetched yet.
func (s *Store) Path(a Asset) string {
	return filepath.Join(s.dir, a.SHA256)
}

// Resolve returns a local path to the asset's content, downloading it on
// a cache miss. A cache hit is re-verified before it is returned; a hit
// whose content no longer matches the digest is reported as an
// IntegrityError rather than silently refetched, since something rewrote
// the cache out from under us. Only a missing file triggers a download.
func (s *Store) Resolve(ctx context.Context, a Asset) (string, error) {
	if err := a.validate(); err != nil {
		return "", err
	}
	path := s.Path(a)

	if _, err := os.Stat(path); err == nil {
		got, herr := hashFile(path)
		if herr != nil {
			return "", &StorageError{Op: "read", Path: path, Err: herr}
		}
		if got != a.SHA256 {
			return "", &IntegrityError{URL: a.URL, Want: a.SHA256, Got: got}
		}
		s.log.Debug("asset cache hit", "name", a.Name, "path", path)
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", &StorageError{Op: "stat", Path: path, Err: err}
	}

	s.log.Info("fetching asset", "name", a.Name, "url", a.URL)
	if err := s.fetch(ctx, a, path); err != nil {
		return "", err
	}
	return path, nil
}

// ResolveAll resolves every asset, stopping at the first failure.
func (s *Store) ResolveAll(ctx context.Context, assets []Asset) (map[string]string, error) {
	paths := make(map[string]string, len(assets))
	for _, a := range assets {
		p, err := s.Resolve(ctx, a)
		if err != nil {
			return nil, err
		}
		paths[a.Name] = p
	}
	return paths, nil
}

// fetch streams the URL into a uniquely named temp file next to the
// final path, hashing as it goes, and renames into place only after the
// digest checks out. Concurrent fetchers of the same asset each write
// their own temp file; the renames are atomic so last writer wins with
// identical content.
func (s *Store) fetch(ctx context.Context, a Asset, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return &FetchError{URL: a.URL, Err: err}
	}
	req.Header.Set("User-Agent", brand.UserAgent(brand.Version))

	resp, err := s.client.Do(req)
	if err != nil {
		return &FetchError{URL: a.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &FetchError{URL: a.URL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return &StorageError{Op: "create", Path: tmp, Err: err}
	}

	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(f, hasher), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return &FetchError{URL: a.URL, Err: err}
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if got != a.SHA256 {
		os.Remove(tmp)
		return &IntegrityError{URL: a.URL, Want: a.SHA256, Got: got}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	s.log.Info("asset cached", "name", a.Name, "path", path)
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
