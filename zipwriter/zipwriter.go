/*******************************************************************************
*
* Copyright 2019 Stefan Majewsky <majewsky@gmx.net>
*
* This file is part of pkgforge.
*
* pkgforge is free software: you can redistribute it and/or modify it under
* the terms of the GNU General Public License as published by the Free
* Software Foundation, either version 3 of the License, or (at your option)
* any later version.
*
* pkgforge is distributed in the hope that it will be useful, but WITHOUT ANY
* WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS
* FOR A PARTICULAR PURPOSE. See the GNU General Public License for more
* details.
*
* You should have received a copy of the GNU General Public License along
* with pkgforge. If not, see <http://www.gnu.org/licenses/>.
*
*******************************************************************************/

// Package zipwriter builds deterministic zip archives: file/dir/symlink/
// tree/empty_file entry kinds, mode bits packed into the high 16 bits of
// ExternalAttrs unix-style, and timestamps clamped to the zip epoch
// (1980-01-01) the format itself cannot represent earlier dates than. A
// thin wrapper over archive/zip: the standard library already offers
// everything a deterministic writer needs once entry ordering and mode
// bits are handled explicitly.
package zipwriter

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/holocm/pkgforge/internal/pkgerr"
)

// ZipEpoch is the earliest date the zip format's DOS-style timestamp field
// can represent: 1980-01-01 00:00:00 UTC.
var ZipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Kind selects a zipwriter entry type.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	KindTree
	KindEmptyFile
)

// unix mode bits recognized by most zip-aware tools, stored in the high
// 16 bits of ExternalAttrs.
const (
	unixModeDir     = 0o040000
	unixModeSymlink = 0o120000
	unixModeRegular = 0o100000
)

// Writer builds a deterministic zip archive.
type Writer struct {
	zw         *zip.Writer
	out        io.Closer
	rootPrefix string
	closed     bool
}

// New creates a Writer that writes to out. RootPrefix, if non-empty, is
// prepended to every entry name (after stripping a leading slash).
func New(out io.WriteCloser, rootPrefix string) *Writer {
	return &Writer{zw: zip.NewWriter(out), out: out, rootPrefix: rootPrefix}
}

func (w *Writer) reroot(name string) string {
	name = strings.TrimPrefix(name, "/")
	if w.rootPrefix != "" {
		name = path.Join(w.rootPrefix, name)
	}
	return name
}

// clampToEpoch returns t if it is not before the zip epoch, else the
// epoch itself; zip's DOS date field cannot represent earlier timestamps.
func clampToEpoch(t time.Time) time.Time {
	if t.Before(ZipEpoch) {
		return ZipEpoch
	}
	return t
}

// Entry describes one add call.
type Entry struct {
	Name    string
	Kind    Kind
	Content []byte // KindFile
	Link    string // KindSymlink target
	Mode    os.FileMode
	Mtime   time.Time // zero means ZipEpoch
	// Top/Dest are only used for KindTree.
	Top  string
	Dest string
}

// Add appends one entry to the archive, dispatching by Kind.
func (w *Writer) Add(e Entry) error {
	if w.closed {
		return pkgerr.ErrWriterClosed
	}
	switch e.Kind {
	case KindDir:
		return w.addDir(e.Name, e.Mode, e.Mtime)
	case KindSymlink:
		return w.addSymlink(e.Name, e.Link, e.Mtime)
	case KindEmptyFile:
		return w.addFile(e.Name, nil, e.Mode, e.Mtime)
	case KindFile:
		return w.addFile(e.Name, e.Content, e.Mode, e.Mtime)
	case KindTree:
		return w.addTree(e.Top, e.Dest, e.Mtime)
	default:
		return pkgerr.New(pkgerr.BadArgument, "unknown zip entry kind %d", e.Kind)
	}
}

func (w *Writer) header(name string, mtime time.Time, unixMode uint32) *zip.FileHeader {
	hdr := &zip.FileHeader{
		Name:     w.reroot(name),
		Modified: clampToEpoch(mtime),
	}
	hdr.ExternalAttrs = unixMode << 16
	// archive/zip only sets the UTF-8 name flag for non-ASCII names; set
	// it unconditionally so consumers never guess at the encoding.
	hdr.Flags |= 0x800
	return hdr
}

// addDir writes a stored entry whose name ends in "/" and whose mode bits
// carry the directory type.
func (w *Writer) addDir(name string, mode os.FileMode, mtime time.Time) error {
	if mode == 0 {
		mode = 0o755
	}
	dirName := strings.TrimSuffix(name, "/") + "/"
	hdr := w.header(dirName, mtime, unixModeDir|uint32(mode.Perm()))
	hdr.ExternalAttrs |= 0x10 // MSDOS directory attribute
	hdr.Method = zip.Store
	_, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write zip dir entry %s", name)
	}
	return nil
}

// addSymlink writes a stored entry whose payload is the link target and
// whose mode bits carry the symlink type.
func (w *Writer) addSymlink(name, target string, mtime time.Time) error {
	hdr := w.header(name, mtime, unixModeSymlink|0o777)
	hdr.Method = zip.Store
	fw, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write zip symlink entry %s", name)
	}
	if _, err := fw.Write([]byte(target)); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write zip symlink target for %s", name)
	}
	return nil
}

// addFile writes a deflate-compressed entry with the regular-file mode
// bits in the high 16 bits of ExternalAttrs.
func (w *Writer) addFile(name string, content []byte, mode os.FileMode, mtime time.Time) error {
	if mode == 0 {
		mode = 0o644
	}
	hdr := w.header(name, mtime, unixModeRegular|uint32(mode.Perm()))
	hdr.Method = zip.Deflate
	fw, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write zip file entry %s", name)
	}
	if _, err := fw.Write(content); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write zip content for %s", name)
	}
	return nil
}

// addTree walks a filesystem subtree, adding files and intermediate
// directories in lexicographic order, deriving each file's mode the same
// way the tar tree walker does (0o755 if user-executable, else 0o644).
func (w *Writer) addTree(top, dest string, mtime time.Time) error {
	entries, err := os.ReadDir(top)
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot read dir %s", top)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if err := w.addDir(dest, 0o755, mtime); err != nil {
		return err
	}
	for _, e := range entries {
		childTop := path.Join(top, e.Name())
		childDest := path.Join(dest, e.Name())
		info, err := e.Info()
		if err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot stat %s", childTop)
		}
		switch {
		case e.IsDir():
			if err := w.addTree(childTop, childDest, mtime); err != nil {
				return err
			}
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(childTop)
			if err != nil {
				return pkgerr.Wrap(pkgerr.IoError, err, "cannot read symlink %s", childTop)
			}
			if err := w.addSymlink(childDest, target, mtime); err != nil {
				return err
			}
		default:
			content, err := os.ReadFile(childTop)
			if err != nil {
				return pkgerr.Wrap(pkgerr.IoError, err, "cannot read %s", childTop)
			}
			mode := os.FileMode(0o644)
			if info.Mode().Perm()&0o100 != 0 {
				mode = 0o755
			}
			if err := w.addFile(childDest, content, mode, mtime); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close finishes the zip central directory and closes the underlying sink.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.zw.Close(); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot close zip writer")
	}
	return w.out.Close()
}
