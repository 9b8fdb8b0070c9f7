// Package archive unpacks the tarballs and compressed disk images that
// test assets ship as. Cached assets are stored under digest names with
// no extension, so the compression format is detected from the file's
// leading bytes rather than its name.
package archive

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"grimm.is/bootlab/internal/logging"
)

// Extract unpacks a tar archive, optionally gzip, zstd or bzip2
// compressed, into dest. Members already present under dest are
// overwritten, so re-extracting the same archive is a no-op. A member
// that would escape dest stops extraction with an UnsafePathError;
// members extracted before it are left in place.
func Extract(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	r, closer, format, err := decompress(br)
	if err != nil {
		return fmt.Errorf("reading archive %s: %w", src, err)
	}
	if closer != nil {
		defer closer()
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("creating extraction root: %w", err)
	}
	root := filepath.Clean(dest)
	log := logging.WithComponent("archive")
	log.Debug("extracting archive", "src", src, "dest", root, "format", formatName(format))

	tr := tar.NewReader(r)
	var members int
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive %s: %w", src, err)
		}
		if err := extractMember(root, hdr, tr); err != nil {
			return err
		}
		members++
	}
	log.Info("archive extracted", "src", src, "members", members)
	return nil
}

// Uncompress decompresses a standalone gzip or zstd file (a compressed
// disk image, not a tarball) into dest, going through a uniquely named
// temp file so a failed run never leaves a truncated dest behind.
func Uncompress(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening compressed file: %w", err)
	}
	defer in.Close()

	br := bufio.NewReader(in)
	r, closer, format, err := decompress(br)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if closer != nil {
		defer closer()
	}
	if format == formatNone {
		return fmt.Errorf("%s is not in a recognized compressed format", src)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", dest, uuid.NewString())
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	_, err = io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("decompressing %s: %w", src, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing output: %w", err)
	}
	logging.WithComponent("archive").Debug("uncompressed", "src", src, "dest", dest, "format", formatName(format))
	return nil
}

type compression int

const (
	formatNone compression = iota
	formatGzip
	formatZstd
	formatBzip2
)

func formatName(f compression) string {
	switch f {
	case formatGzip:
		return "gzip"
	case formatZstd:
		return "zstd"
	case formatBzip2:
		return "bzip2"
	default:
		return "none"
	}
}

// decompress sniffs the stream's leading bytes and wraps it in the
// matching decompressor. A stream with no recognized signature is
// returned as-is with formatNone.
func decompress(br *bufio.Reader) (io.Reader, func(), compression, error) {
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, nil, formatNone, err
	}
	switch {
	case len(head) >= 2 && head[0] == 0x1f && head[1] == 0x8b:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, formatGzip, err
		}
		return zr, func() { zr.Close() }, formatGzip, nil
	case len(head) >= 4 && head[0] == 0x28 && head[1] == 0xb5 && head[2] == 0x2f && head[3] == 0xfd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, formatZstd, err
		}
		return zr, zr.Close, formatZstd, nil
	case len(head) >= 3 && head[0] == 'B' && head[1] == 'Z' && head[2] == 'h':
		return bzip2.NewReader(br), nil, formatBzip2, nil
	default:
		return br, nil, formatNone, nil
	}
}

func extractMember(root string, hdr *tar.Header, r io.Reader) error {
	target, err := safeJoin(root, hdr.Name)
	if err != nil {
		return err
	}
	mode := hdr.FileInfo().Mode()

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, mode.Perm()); err != nil {
			return fmt.Errorf("creating directory %s: %w", hdr.Name, err)
		}

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", hdr.Name, err)
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
		if err != nil {
			return fmt.Errorf("creating %s: %w", hdr.Name, err)
		}
		_, err = io.Copy(f, r)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", hdr.Name, err)
		}

	case tar.TypeSymlink:
		if err := checkLink(root, target, hdr); err != nil {
			return err
		}
		os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("creating symlink %s: %w", hdr.Name, err)
		}

	case tar.TypeLink:
		oldname, err := safeJoin(root, hdr.Linkname)
		if err != nil {
			return &UnsafePathError{Member: hdr.Name, Link: hdr.Linkname}
		}
		os.Remove(target)
		if err := os.Link(oldname, target); err != nil {
			return fmt.Errorf("creating hard link %s: %w", hdr.Name, err)
		}

	default:
		// Device nodes and FIFOs have no business in test assets.
		logging.WithComponent("archive").Warn("skipping archive member with unsupported type", "member", hdr.Name, "type", hdr.Typeflag)
	}
	return nil
}

// safeJoin joins name under root and rejects results that land outside
// it. filepath.Join cleans the path, so "a/../../x" resolves before the
// containment check.
func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, name)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", &UnsafePathError{Member: name}
	}
	return target, nil
}

// checkLink rejects symlink members whose target, resolved relative to
// the link's own directory, points outside the extraction root.
func checkLink(root, target string, hdr *tar.Header) error {
	link := hdr.Linkname
	if filepath.IsAbs(link) {
		return &UnsafePathError{Member: hdr.Name, Link: link}
	}
	resolved := filepath.Join(filepath.Dir(target), link)
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return &UnsafePathError{Member: hdr.Name, Link: link}
	}
	return nil
}
