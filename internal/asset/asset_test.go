package asset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestResolve(t *testing.T) {
	content := []byte("vmlinuz test payload")
	want := digestOf(content)

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(content)
	}))
	defer srv.Close()

	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a := Asset{Name: "kernel", URL: srv.URL + "/vmlinuz", SHA256: want}

	t.Run("DownloadsOnMiss", func(t *testing.T) {
		path, err := store.Resolve(context.Background(), a)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading cached file: %v", err)
		}
		if string(got) != string(content) {
			t.Errorf("cached content = %q, want %q", got, content)
		}
		if hits != 1 {
			t.Errorf("server hits = %d, want 1", hits)
		}
	})

	t.Run("HitSkipsNetwork", func(t *testing.T) {
		path, err := store.Resolve(context.Background(), a)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if path != store.Path(a) {
			t.Errorf("path = %q, want %q", path, store.Path(a))
		}
		if hits != 1 {
			t.Errorf("server hits = %d, want 1 (hit must not refetch)", hits)
		}
	})

	t.Run("DigestKeysTheCache", func(t *testing.T) {
		// Same content reachable from another URL shares the slot.
		other := Asset{Name: "kernel-mirror", URL: srv.URL + "/mirror/vmlinuz", SHA256: want}
		path, err := store.Resolve(context.Background(), other)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if path != store.Path(a) {
			t.Errorf("mirror resolved to %q, want shared slot %q", path, store.Path(a))
		}
		if hits != 1 {
			t.Errorf("server hits = %d, want 1", hits)
		}
	})

	t.Run("NoTempLeftovers", func(t *testing.T) {
		leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(store.Path(a)), "*.tmp"))
		if err != nil {
			t.Fatalf("glob failed: %v", err)
		}
		if len(leftovers) != 0 {
			t.Errorf("temp files left behind: %v", leftovers)
		}
	})
}

func TestResolveCorruptedEntry(t *testing.T) {
	content := []byte("rootfs image bytes")
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(content)
	}))
	defer srv.Close()

	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a := Asset{Name: "rootfs", URL: srv.URL, SHA256: digestOf(content)}

	path, err := store.Resolve(context.Background(), a)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("scribbled over"), 0644); err != nil {
		t.Fatalf("corrupting cache entry: %v", err)
	}

	_, err = store.Resolve(context.Background(), a)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("Resolve after corruption = %v, want IntegrityError", err)
	}
	if ierr.Want != a.SHA256 {
		t.Errorf("IntegrityError.Want = %q, want %q", ierr.Want, a.SHA256)
	}
	if hits != 1 {
		t.Errorf("server hits = %d, want 1 (mismatch must not trigger refetch)", hits)
	}
}

func TestResolveBadDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not what the digest says"))
	}))
	defer srv.Close()

	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a := Asset{Name: "bad", URL: srv.URL, SHA256: digestOf([]byte("expected bytes"))}

	_, err = store.Resolve(context.Background(), a)
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("Resolve = %v, want IntegrityError", err)
	}
	if _, serr := os.Stat(store.Path(a)); !os.IsNotExist(serr) {
		t.Error("mismatched download must not land in the cache")
	}
}

func TestResolveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a := Asset{Name: "missing", URL: srv.URL, SHA256: digestOf([]byte("whatever"))}

	_, err = store.Resolve(context.Background(), a)
	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("Resolve = %v, want FetchError", err)
	}
	if ferr.URL != a.URL {
		t.Errorf("FetchError.URL = %q, want %q", ferr.URL, a.URL)
	}
}

func TestResolveRejectsBadDigest(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cases := []struct {
		name   string
		digest string
	}{
		{"Empty", ""},
		{"Short", "abc123"},
		{"NotHex", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Resolve(context.Background(), Asset{Name: "x", URL: "http://example.invalid/x", SHA256: tc.digest})
			if err == nil {
				t.Fatal("Resolve accepted an invalid digest")
			}
		})
	}
}

func TestResolveAll(t *testing.T) {
	kernel := []byte("kernel bits")
	initrd := []byte("initrd bits")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kernel":
			w.Write(kernel)
		case "/initrd":
			w.Write(initrd)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	assets := []Asset{
		{Name: "kernel", URL: srv.URL + "/kernel", SHA256: digestOf(kernel)},
		{Name: "initrd", URL: srv.URL + "/initrd", SHA256: digestOf(initrd)},
	}

	paths, err := store.ResolveAll(context.Background(), assets)
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
	for _, a := range assets {
		if paths[a.Name] == "" {
			t.Errorf("no path for asset %q", a.Name)
		}
	}
}
