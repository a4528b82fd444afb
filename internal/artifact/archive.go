package artifact

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// skipDirs are never archived.
var skipDirs = map[string]bool{".git": true}

// maxEntrySize bounds a single extracted file.
const maxEntrySize = 1 << 30

// Archive packs the regular files and directories under dir into a gzip
// compressed tarball. Symlinks are stored as links; other special files are
// skipped.
func Archive(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && skipDirs[d.Name()] {
			return filepath.SkipDir
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		var link string
		switch {
		case info.Mode().IsRegular(), info.IsDir():
		case info.Mode()&fs.ModeSymlink != 0:
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		default:
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		// #nosec G304 - walking the artifact directory
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unarchive extracts a tarball written by Archive into dir. Entries that
// would land outside dir, or that reach through a symlink extracted from the
// same archive, are rejected.
func Unarchive(data []byte, dir string) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid archive: %w", err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return err
	}

	links := make(map[string]bool)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("invalid archive: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes the target directory", hdr.Name)
		}
		if err := walkEntry(links, hdr.Name); err != nil {
			return fmt.Errorf("archive entry %q: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || walkEntry(links, path.Dir(filepath.ToSlash(hdr.Name))+"/"+hdr.Linkname) != nil {
				return fmt.Errorf("archive entry %q links outside the archive", hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
			links[path.Clean(filepath.ToSlash(hdr.Name))] = true
		}
	}
}

var (
	errEscapesRoot = errors.New("path climbs above the archive root")
	errThroughLink = errors.New("path goes through an extracted symlink")
)

// walkEntry follows name one component at a time from the archive root.
// Resolving ".." lexically is only sound while no component is a symlink,
// so any path that steps onto an extracted link is refused.
func walkEntry(links map[string]bool, name string) error {
	var stack []string
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return errEscapesRoot
			}
			stack = stack[:len(stack)-1]
			continue
		}
		stack = append(stack, part)
		if links[strings.Join(stack, "/")] {
			return errThroughLink
		}
	}
	return nil
}

func writeEntry(r io.Reader, target string, hdr *tar.Header) error {
	if hdr.Size > maxEntrySize {
		return fmt.Errorf("archive entry %q is too large", hdr.Name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	// #nosec G304 G115 - target is checked against the extraction root
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(hdr.Mode).Perm())
	if err != nil {
		return err
	}
	if _, err := io.CopyN(f, r, hdr.Size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
