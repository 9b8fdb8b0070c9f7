package asset

import "fmt"

// FetchError indicates the remote transfer itself failed. The cache is
// left unchanged; the caller may retry, the store never does.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IntegrityError indicates content whose digest does not match the
// declared one. It is fatal: corrupted or tampered content must not be
// reused, so the store never retries it.
type IntegrityError struct {
	URL  string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: want sha256:%s, got sha256:%s", e.URL, e.Want, e.Got)
}

// StorageError indicates a local filesystem failure (no space,
// permissions) while maintaining the cache.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
