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

// Package tarwriter builds deterministic, POSIX-tar-compatible archives:
// directory synthesis, duplicate suppression, tar-merging, root-prefix
// injection, an mtime policy, and pluggable compression (built-in gzip/
// bzip2/xz, or piping through an external compressor subprocess). Entries
// are accepted one at a time, in any order, from any source, so AddFile,
// AddTar, and AddTree all share the same header construction and parent
// synthesis.
package tarwriter

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/holocm/pkgforge/internal/pkgerr"
)

// PortableMtime is the fixed timestamp (2000-01-01 00:00 UTC) used for the
// "portable" mtime policy.
const PortableMtime = int64(946684800)

// Kind selects the tar entry type for add_file.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindHardlink
)

// Compression selects the writer's built-in compressor, if any.
type Compression string

const (
	CompressionNone  Compression = ""
	CompressionGzip  Compression = "gz"
	CompressionBzip2 Compression = "bz2"
	CompressionXz    Compression = "xz"
	CompressionLzma  Compression = "lzma"
)

// Options configures a new Writer.
type Options struct {
	// Mtime is the default mtime applied to every entry unless add_tar's
	// preserve_tar_mtimes path supplies an inherited value. Leave zero for
	// epoch 0; set to PortableMtime for reproducible output.
	Mtime int64
	// RootPrefix, if non-empty, is prepended to every non-absolute entry
	// name.
	RootPrefix string
	// Compression selects a built-in compressor. Mutually exclusive with
	// Compressor.
	Compression Compression
	// Compressor, if set, is a shell command that the writer pipes the
	// raw tar stream through; its stdout becomes the file contents.
	Compressor string
	// Logger receives duplicate-entry warnings; nil means logrus's
	// standard logger.
	Logger *logrus.Logger
}

// Writer builds one tar archive (optionally compressed) into an
// io.WriteCloser target. The zero value is not usable; construct with New.
type Writer struct {
	opts   Options
	tw     *tar.Writer
	sink   io.WriteCloser // the thing tw writes into: raw file, gzip.Writer, bzip2 writer, xz writer, or pipe to subprocess
	out    io.WriteCloser // the underlying file/output, closed last
	cmd    *exec.Cmd
	cmdIn  io.WriteCloser
	closed bool

	emitted     map[string]bool
	directories map[string]bool
}

// New creates a Writer that writes its (possibly compressed) output to out.
// out is closed when the Writer is closed.
func New(out io.WriteCloser, opts Options) (*Writer, error) {
	w := &Writer{
		opts:        opts,
		out:         out,
		emitted:     make(map[string]bool),
		directories: make(map[string]bool),
	}

	if opts.Compressor != "" {
		cmd := exec.Command("sh", "-c", opts.Compressor)
		cmd.Stdout = out
		cmd.Stderr = os.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.CompressorError, err, "cannot open compressor stdin")
		}
		if err := cmd.Start(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.CompressorError, err, "cannot start compressor %q", opts.Compressor)
		}
		w.cmd = cmd
		w.cmdIn = stdin
		w.sink = stdin
		w.tw = tar.NewWriter(stdin)
		return w, nil
	}

	sink, err := wrapCompression(out, opts)
	if err != nil {
		return nil, err
	}
	w.sink = sink
	w.tw = tar.NewWriter(sink)
	return w, nil
}

func wrapCompression(out io.Writer, opts Options) (io.WriteCloser, error) {
	switch opts.Compression {
	case CompressionNone:
		return nopWriteCloser{out}, nil
	case CompressionGzip:
		gw := gzip.NewWriter(out)
		gw.ModTime = time.Unix(opts.Mtime, 0)
		return gw, nil
	case CompressionBzip2:
		bw, err := bzip2.NewWriter(out, nil)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.CompressorError, err, "cannot open bzip2 writer")
		}
		return bw, nil
	case CompressionXz:
		xw, err := xz.NewWriter(out)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.CompressorError, err, "cannot open xz writer")
		}
		return xw, nil
	case CompressionLzma:
		lw, err := lzma.NewWriter(out)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.CompressorError, err, "cannot open lzma writer")
		}
		return lw, nil
	default:
		return nil, pkgerr.New(pkgerr.BadArgument, "unknown compression %q", opts.Compression)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// FileEntry describes one add_file call.
type FileEntry struct {
	Name    string
	Kind    Kind
	Content []byte // KindRegular
	Link    string // KindSymlink / KindHardlink target
	UID     int
	GID     int
	Uname   string
	Gname   string
	Mtime   *int64 // nil means "use the writer default"
	Mode    *int64 // nil means "use the kind default"
}

func (w *Writer) defaultMtime() int64 {
	return w.opts.Mtime
}

func (w *Writer) logger() *logrus.Logger {
	if w.opts.Logger != nil {
		return w.opts.Logger
	}
	return logrus.StandardLogger()
}

// normalizeName strips one leading "./", re-roots under the writer's
// prefix if set and the path is not absolute, and cleans repeated
// separators. Directory names stay bare here; the caller appends the
// trailing "/".
func (w *Writer) normalizeName(name string) string {
	name = strings.TrimPrefix(name, "./")
	if name == "" || name == "." {
		return ""
	}
	if w.opts.RootPrefix != "" && !strings.HasPrefix(name, "/") {
		name = path.Join(w.opts.RootPrefix, name)
	}
	return path.Clean(name)
}

// AddFile is the unified add_file entry point.
func (w *Writer) AddFile(e FileEntry) error {
	if w.closed {
		return pkgerr.ErrWriterClosed
	}
	return w.addNormalized(w.normalizeName(e.Name), e)
}

// addNormalized writes e under name, which normalizeName has already
// produced, so synthesized parents are not re-rooted a second time.
func (w *Writer) addNormalized(name string, e FileEntry) error {
	if name == "" {
		return nil
	}

	if err := w.synthesizeParents(path.Dir(name), e.UID, e.GID, e.Uname, e.Gname, e.Mtime); err != nil {
		return err
	}

	entryName := name
	if e.Kind == KindDirectory {
		entryName = name + "/"
	}
	if w.emitted[entryName] {
		if e.Kind != KindDirectory {
			// skip the write, but still log it
			w.logger().WithField("path", entryName).Warn("duplicate tar entry, keeping first occurrence")
		}
		return nil
	}

	mtime := w.defaultMtime()
	if e.Mtime != nil {
		mtime = *e.Mtime
	}
	mode := defaultMode(e.Kind, e.Mode)
	ts := time.Unix(mtime, 0)

	// relative entries are written "./"-prefixed, the way tar itself
	// archives a directory's contents
	headerName := entryName
	if !strings.HasPrefix(headerName, "/") {
		headerName = "./" + headerName
	}

	hdr := &tar.Header{
		Name:       headerName,
		Mode:       mode,
		Uid:        e.UID,
		Gid:        e.GID,
		Uname:      e.Uname,
		Gname:      e.Gname,
		ModTime:    ts,
		AccessTime: ts,
		ChangeTime: ts,
	}
	switch e.Kind {
	case KindDirectory:
		hdr.Typeflag = tar.TypeDir
		w.directories[entryName] = true
	case KindRegular:
		hdr.Typeflag = tar.TypeReg
		hdr.Size = int64(len(e.Content))
	case KindSymlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.Link
	case KindHardlink:
		hdr.Typeflag = tar.TypeLink
		hdr.Linkname = e.Link
	}

	if err := w.tw.WriteHeader(hdr); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write tar header for %s", entryName)
	}
	if e.Kind == KindRegular {
		if _, err := w.tw.Write(e.Content); err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot write tar content for %s", entryName)
		}
	}
	w.emitted[entryName] = true
	return nil
}

func defaultMode(kind Kind, override *int64) int64 {
	if override != nil {
		return *override
	}
	if kind == KindDirectory {
		return 0o755
	}
	return 0o644
}

// synthesizeParents walks up from dir and emits any missing ancestor
// directories, shallowest first, so every entry's parents exist exactly
// once before it.
func (w *Writer) synthesizeParents(dir string, uid, gid int, uname, gname string, mtime *int64) error {
	if dir == "." || dir == "/" || dir == "" {
		return nil
	}
	parent := path.Dir(dir)
	if parent != dir {
		if err := w.synthesizeParents(parent, uid, gid, uname, gname, mtime); err != nil {
			return err
		}
	}
	entryName := dir + "/"
	if w.emitted[entryName] {
		return nil
	}
	return w.addNormalized(dir, FileEntry{
		Name:  dir,
		Kind:  KindDirectory,
		UID:   uid,
		GID:   gid,
		Uname: uname,
		Gname: gname,
		Mtime: mtime,
	})
}

// AddTarOptions configures an add_tar merge.
type AddTarOptions struct {
	RootUID        *int
	RootGID        *int
	Numeric        bool
	NameFilter     func(name string) bool
	Root           string
	PreserveMtimes bool
}

// AddTar ingests another tar archive, applying ownership rewrites, name
// filtering, and re-rooting.
func (w *Writer) AddTar(r io.Reader, opts AddTarOptions) error {
	if w.closed {
		return pkgerr.ErrWriterClosed
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return pkgerr.Wrap(pkgerr.BadHeader, err, "malformed source tar")
		}
		if opts.NameFilter != nil && !opts.NameFilter(hdr.Name) {
			continue
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if opts.Root != "" && !strings.HasPrefix(name, "/") {
			name = path.Join(opts.Root, name)
		}

		uid, gid := hdr.Uid, hdr.Gid
		uname, gname := hdr.Uname, hdr.Gname
		if opts.RootUID != nil {
			uid = *opts.RootUID
		}
		if opts.RootGID != nil {
			gid = *opts.RootGID
		}
		if opts.Numeric {
			uname, gname = "", ""
		}

		link := hdr.Linkname
		if hdr.Typeflag == tar.TypeLink && link != "" && opts.Root != "" && !strings.HasPrefix(link, "/") {
			link = path.Join(opts.Root, strings.TrimPrefix(link, "./"))
		}

		var mtime *int64
		if opts.PreserveMtimes {
			t := hdr.ModTime.Unix()
			mtime = &t
		}

		kind := KindRegular
		switch hdr.Typeflag {
		case tar.TypeDir:
			kind = KindDirectory
			name = strings.TrimSuffix(name, "/")
		case tar.TypeSymlink:
			kind = KindSymlink
		case tar.TypeLink:
			kind = KindHardlink
		}

		var content []byte
		if kind == KindRegular {
			content, err = io.ReadAll(tr)
			if err != nil {
				return pkgerr.Wrap(pkgerr.ShortRead, err, "truncated tar entry %s", hdr.Name)
			}
		}

		mode := hdr.Mode
		if err := w.AddFile(FileEntry{
			Name:    name,
			Kind:    kind,
			Content: content,
			Link:    link,
			UID:     uid,
			GID:     gid,
			Uname:   uname,
			Gname:   gname,
			Mtime:   mtime,
			Mode:    &mode,
		}); err != nil {
			return err
		}
	}
}

// AddTreeOptions configures an add_tree filesystem walk.
type AddTreeOptions struct {
	Mode  *int64
	UID   int
	GID   int
	Uname string
	Gname string
}

// AddTree walks a filesystem subtree rooted at top and adds every file and
// intermediate directory under destpath, in lexicographic order.
func (w *Writer) AddTree(top, destpath string, opts AddTreeOptions) error {
	if w.closed {
		return pkgerr.ErrWriterClosed
	}
	return walkSorted(top, func(relPath string, d fs.DirEntry) error {
		destName := path.Join(destpath, filepathToSlash(relPath))
		if relPath == "." {
			destName = destpath
		}

		info, err := d.Info()
		if err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot stat %s", relPath)
		}

		if d.IsDir() {
			return w.AddFile(FileEntry{
				Name: destName, Kind: KindDirectory,
				UID: opts.UID, GID: opts.GID, Uname: opts.Uname, Gname: opts.Gname,
			})
		}

		if info.Mode()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path.Join(top, relPath))
			if err != nil {
				return pkgerr.Wrap(pkgerr.IoError, err, "cannot read symlink %s", relPath)
			}
			return w.AddFile(FileEntry{
				Name: destName, Kind: KindSymlink, Link: target,
				UID: opts.UID, GID: opts.GID, Uname: opts.Uname, Gname: opts.Gname,
			})
		}

		content, err := os.ReadFile(path.Join(top, relPath))
		if err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot read %s", relPath)
		}
		mode := opts.Mode
		if mode == nil {
			m := int64(0o644)
			if info.Mode().Perm()&0o100 != 0 {
				m = 0o755
			}
			mode = &m
		}
		return w.AddFile(FileEntry{
			Name: destName, Kind: KindRegular, Content: content, Mode: mode,
			UID: opts.UID, GID: opts.GID, Uname: opts.Uname, Gname: opts.Gname,
		})
	})
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, string(os.PathSeparator), "/")
}

// walkSorted walks top depth-first: top itself first, then the entries of
// each directory in lexicographic order, every directory before its own
// contents.
func walkSorted(top string, visit func(relPath string, d fs.DirEntry) error) error {
	rel := "."
	fi, err := os.Stat(top)
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot stat %s", top)
	}
	rootEntry := dirEntryFromStat(fi)
	if err := visit(rel, rootEntry); err != nil {
		return err
	}
	return walkDir(top, "", visit)
}

func walkDir(top, rel string, visit func(relPath string, d fs.DirEntry) error) error {
	entries, err := os.ReadDir(path.Join(top, rel))
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot read dir %s", rel)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		childRel := e.Name()
		if rel != "" {
			childRel = path.Join(rel, e.Name())
		}
		if err := visit(childRel, e); err != nil {
			return err
		}
		if e.IsDir() {
			if err := walkDir(top, childRel, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

type statDirEntry struct{ fi fs.FileInfo }

func (d statDirEntry) Name() string              { return d.fi.Name() }
func (d statDirEntry) IsDir() bool               { return d.fi.IsDir() }
func (d statDirEntry) Type() fs.FileMode         { return d.fi.Mode().Type() }
func (d statDirEntry) Info() (fs.FileInfo, error) { return d.fi, nil }

func dirEntryFromStat(fi fs.FileInfo) fs.DirEntry { return statDirEntry{fi} }

// Close finishes the tar stream, the compression layer, and (for a
// subprocess compressor) waits for the child and checks its exit status.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.tw.Close(); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot close tar stream")
	}
	if w.cmd != nil {
		if err := w.cmdIn.Close(); err != nil {
			return pkgerr.Wrap(pkgerr.CompressorError, err, "cannot close compressor stdin")
		}
		if err := w.cmd.Wait(); err != nil {
			return pkgerr.Wrap(pkgerr.CompressorError, err, "compressor %q exited non-zero", w.opts.Compressor)
		}
		return w.out.Close()
	}
	if err := w.sink.Close(); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot close compression sink")
	}
	return w.out.Close()
}

// ExternalXZCompressor builds a Compressor shell command for lzma/xz
// fallback when no built-in writer is desired: the archive bytes are
// piped through the `xz` binary instead.
func ExternalXZCompressor(format string) string {
	return fmt.Sprintf("xz -F %s -", format)
}
