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

// Package treereader normalizes every archive/package format this module
// understands, plus a plain filesystem and a saved JSON snapshot, behind one
// small capability interface so the comparator (package compare) never has
// to know what it's diffing against. The Rpm variant composes a producer
// goroutine with an iopipe.Pipe to decompress its payload while the
// consumer side parses it. The Deb variant has no producer goroutine or
// pipe: it buffers the outer AR archive and decompresses its data member
// on the caller's goroutine.
package treereader

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path"
	"sort"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/holocm/pkgforge/arfmt"
	"github.com/holocm/pkgforge/cpioread"
	"github.com/holocm/pkgforge/fileinfo"
	"github.com/holocm/pkgforge/internal/pkgerr"
	"github.com/holocm/pkgforge/iopipe"
	"github.com/holocm/pkgforge/rpmread"
	"github.com/holocm/pkgforge/tarread"
)

// Reader is the capability interface every tree source implements:
// Next returns the next normalized entry, or (nil, nil) once exhausted.
// IsDone reports whether the reader is exhausted: it becomes true once Next
// has returned (nil, nil), or for SavedJson once its last entry has been
// returned. An error from Next does not set it.
// Implementations are restartable only by constructing a fresh instance.
type Reader interface {
	Next() (*fileinfo.FileInfo, error)
	IsDone() bool
}

// ReadAll drains r into a slice, for callers (tests, snapshot writers) that
// want the whole tree at once instead of streaming it.
func ReadAll(r Reader) ([]*fileinfo.FileInfo, error) {
	var out []*fileinfo.FileInfo
	for {
		fi, err := r.Next()
		if err != nil {
			return nil, err
		}
		if fi == nil {
			return out, nil
		}
		out = append(out, fi)
	}
}

// --- FileSystem -------------------------------------------------------

// FileSystem walks a root directory in os.walk order: directories and
// files are visited in alphabetical order at each level; symlinks are
// reported with their target and are not recursed into.
type FileSystem struct {
	queue []string // remaining relative paths, in visitation order
	root  string
	done  bool
}

// NewFileSystem builds a FileSystem reader over everything under root
// (root itself is not reported; only its contents are).
func NewFileSystem(root string) (*FileSystem, error) {
	fs := &FileSystem{root: root}
	if err := fs.enqueue("."); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileSystem) enqueue(rel string) error {
	entries, err := os.ReadDir(path.Join(f.root, rel))
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot read dir %s", rel)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		childRel := e.Name()
		if rel != "." {
			childRel = path.Join(rel, e.Name())
		}
		f.queue = append(f.queue, childRel)
	}
	return nil
}

func (f *FileSystem) Next() (*fileinfo.FileInfo, error) {
	for {
		if len(f.queue) == 0 {
			f.done = true
			return nil, nil
		}
		rel := f.queue[0]
		f.queue = f.queue[1:]

		full := path.Join(f.root, rel)
		lst, err := os.Lstat(full)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot stat %s", rel)
		}

		fi := fileinfo.FileInfo{Path: rel, Mode: fileinfo.TypeRegular | uint32(lst.Mode().Perm())}
		switch {
		case lst.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot read symlink %s", rel)
			}
			fi.IsSymlink = true
			fi.SymlinkTarget = target
			fi.Mode = fileinfo.TypeSymlink | uint32(lst.Mode().Perm())
		case lst.IsDir():
			fi.IsDir = true
			fi.Mode = fileinfo.TypeDir | uint32(lst.Mode().Perm())
			if err := f.enqueueFront(rel); err != nil {
				return nil, err
			}
		default:
			fi.Size = lst.Size()
		}
		return &fi, nil
	}
}

// enqueueFront splices a directory's children into the front of the queue
// so the walk descends depth-first, matching os.walk's traversal order.
func (f *FileSystem) enqueueFront(rel string) error {
	entries, err := os.ReadDir(path.Join(f.root, rel))
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot read dir %s", rel)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	children := make([]string, len(entries))
	for i, e := range entries {
		children[i] = path.Join(rel, e.Name())
	}
	f.queue = append(children, f.queue...)
	return nil
}

func (f *FileSystem) IsDone() bool { return f.done }

// --- Tar ---------------------------------------------------------------

// Tar wraps tarread.Reader.
type Tar struct {
	r    *tarread.Reader
	done bool
}

// NewTar builds a Tar reader over r.
func NewTar(r io.Reader) *Tar {
	return &Tar{r: tarread.NewReader(r)}
}

func (t *Tar) Next() (*fileinfo.FileInfo, error) {
	fi, err := t.r.Next()
	if err != nil {
		return nil, err
	}
	if fi == nil {
		t.done = true
	}
	return fi, nil
}

func (t *Tar) IsDone() bool { return t.done }

// --- Rpm -----------------------------------------------------------------

// Rpm spins the rpmread header reader's payload decompression on one
// goroutine, piping through an iopipe.Pipe into a cpioread.Reader drained
// on the caller's goroutine.
type Rpm struct {
	pkg   *rpmread.Package
	cpio  *cpioread.Reader
	pipe  *iopipe.Pipe
	errCh chan error
	done  bool
}

// NewRpm parses the RPM metadata from r and prepares to stream its cpio
// payload. The producer goroutine is started immediately; call Next to
// drain it.
func NewRpm(r io.Reader) (*Rpm, error) {
	pkg, err := rpmread.Read(r)
	if err != nil {
		return nil, err
	}
	p := iopipe.New()
	rp := &Rpm{pkg: pkg, pipe: p, cpio: cpioread.NewReader(p.AsIoReader()), errCh: make(chan error, 1)}
	go func() {
		err := pkg.StreamCpio(pipeWriter{p})
		p.Close()
		rp.errCh <- err
	}()
	return rp, nil
}

type pipeWriter struct{ p *iopipe.Pipe }

func (w pipeWriter) Write(b []byte) (int, error) { return w.p.Write(b) }

func (r *Rpm) Next() (*fileinfo.FileInfo, error) {
	fi, err := r.cpio.Next()
	if err != nil {
		<-r.errCh
		return nil, err
	}
	if fi == nil {
		r.done = true
		if producerErr := <-r.errCh; producerErr != nil {
			return nil, producerErr
		}
	}
	return fi, nil
}

func (r *Rpm) IsDone() bool { return r.done }

// Package exposes the parsed RPM metadata (Name/Version/Arch/etc. are
// derived by the caller from pkg.Lead.Name() and the header fields).
func (r *Rpm) Package() *rpmread.Package { return r.pkg }

// --- Deb -----------------------------------------------------------------

// Deb scans the outer AR archive (fully buffered by arfmt.ReadAll), then
// streams the data.<ext> member's tar payload through a decompressor into
// a tarread.Reader.
type Deb struct {
	entries []arfmt.Entry
	tar     *Tar
	done    bool
}

// NewDeb parses the outer AR archive from r and locates its data.<ext>
// member for streaming.
func NewDeb(r io.Reader) (*Deb, error) {
	entries, err := arfmt.ReadAll(r)
	if err != nil {
		return nil, err
	}
	d := &Deb{entries: entries}
	dataMember, err := d.findDataMember()
	if err != nil {
		return nil, err
	}
	decompressed, err := decompressDebData(dataMember)
	if err != nil {
		return nil, err
	}
	d.tar = NewTar(decompressed)
	return d, nil
}

// decompressDebData selects a decompressor by the data member's filename
// suffix, mirroring debbuild.DataExt's extension set in reverse.
func decompressDebData(e arfmt.Entry) (io.Reader, error) {
	r := bytes.NewReader(e.Data)
	switch {
	case hasSuffix(e.Name, ".tar.gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.DecompressError, err, "deb: bad gzip data member")
		}
		return gz, nil
	case hasSuffix(e.Name, ".tar.bz2"):
		return bzip2.NewReader(r), nil
	case hasSuffix(e.Name, ".tar.xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.DecompressError, err, "deb: bad xz data member")
		}
		return xr, nil
	case hasSuffix(e.Name, ".tar.lzma"):
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.DecompressError, err, "deb: bad lzma data member")
		}
		return lr, nil
	default:
		return r, nil
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func (d *Deb) findDataMember() (arfmt.Entry, error) {
	for _, e := range d.entries {
		if len(e.Name) >= 5 && e.Name[:5] == "data." {
			return e, nil
		}
	}
	return arfmt.Entry{}, pkgerr.New(pkgerr.BadHeader, "deb archive has no data.* member")
}

func (d *Deb) Next() (*fileinfo.FileInfo, error) {
	fi, err := d.tar.Next()
	if err != nil {
		return nil, err
	}
	if fi == nil {
		d.done = true
	}
	return fi, nil
}

func (d *Deb) IsDone() bool { return d.done }

// --- SavedJson -------------------------------------------------------

// savedEntry mirrors FileInfo's exported fields other than Inode and
// DataSize (which are not saved) for JSON round-tripping,
// restoring uid=0/gid=0 defaults when the source omitted them.
type savedEntry struct {
	Path          string  `json:"path"`
	Size          int64   `json:"size"`
	Mode          uint32  `json:"mode"`
	UID           *uint32 `json:"uid"`
	GID           *uint32 `json:"gid"`
	IsDir         bool    `json:"is_dir"`
	IsSymlink     bool    `json:"is_symlink"`
	SymlinkTarget string  `json:"symlink_target,omitempty"`
}

// SavedJson replays a previously-saved tree snapshot.
type SavedJson struct {
	entries []*fileinfo.FileInfo
	idx     int
}

// NewSavedJson parses a JSON array of entries previously written by
// WriteSavedJson (or an equivalent snapshot tool).
func NewSavedJson(r io.Reader) (*SavedJson, error) {
	var raw []savedEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, pkgerr.Wrap(pkgerr.ManifestParse, err, "malformed saved tree snapshot")
	}
	entries := make([]*fileinfo.FileInfo, len(raw))
	for i, e := range raw {
		uid, gid := uint32(0), uint32(0)
		if e.UID != nil {
			uid = *e.UID
		}
		if e.GID != nil {
			gid = *e.GID
		}
		entries[i] = &fileinfo.FileInfo{
			Path: e.Path, Size: e.Size, Mode: e.Mode, UID: uid, GID: gid,
			IsDir: e.IsDir, IsSymlink: e.IsSymlink, SymlinkTarget: e.SymlinkTarget,
		}
	}
	return &SavedJson{entries: entries}, nil
}

func (s *SavedJson) Next() (*fileinfo.FileInfo, error) {
	if s.idx >= len(s.entries) {
		return nil, nil
	}
	fi := s.entries[s.idx]
	s.idx++
	return fi, nil
}

func (s *SavedJson) IsDone() bool { return s.idx >= len(s.entries) }

// WriteSavedJson serializes entries in the savedEntry shape NewSavedJson
// reads back.
func WriteSavedJson(w io.Writer, entries []*fileinfo.FileInfo) error {
	out := make([]savedEntry, len(entries))
	for i, fi := range entries {
		uid, gid := fi.UID, fi.GID
		out[i] = savedEntry{
			Path: fi.Path, Size: fi.Size, Mode: fi.Mode, UID: &uid, GID: &gid,
			IsDir: fi.IsDir, IsSymlink: fi.IsSymlink, SymlinkTarget: fi.SymlinkTarget,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
