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

// Command compare_tree diffs an expected file tree against a built one
// and exits 1 when any difference is classified. Either side may be a
// directory, a tar (optionally gzip/bzip2/xz/lzma compressed), a .deb, an
// RPM, or a previously saved JSON snapshot; the format is sniffed from the
// content, not the file name. With --save, the got tree is snapshotted to
// JSON instead of compared, for use as a future expected side.
package main

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/ogier/pflag"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/holocm/pkgforge/compare"
	"github.com/holocm/pkgforge/internal/pkgerr"
	"github.com/holocm/pkgforge/treereader"
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "compare_tree: %s\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	fs := pflag.NewFlagSet("compare_tree", pflag.ExitOnError)
	expectedPath := fs.String("expected", "", "expected tree: directory, archive, or saved JSON snapshot")
	gotPath := fs.String("got", "", "got tree: directory, archive, or saved JSON snapshot (required)")
	savePath := fs.String("save", "", "write the got tree as a JSON snapshot and exit")
	include := fs.String("include", "", "only compare paths matching this regex")
	exclude := fs.String("exclude", "", "skip paths matching this regex")
	compareOwner := fs.Bool("compare_owner", false, "also classify uid/gid differences")
	minimumCompareSize := fs.Int64("minimum_compare_size", 0, "ignore size changes when both sides are below this")
	showDecreases := fs.Bool("show_decreases", false, "classify size decreases too")
	maxAbsoluteIncrease := fs.Int64("max_allowed_absolute_increase", 0, "fail when a size grows by more than this many bytes")
	maxPercentIncrease := fs.Float64("max_allowed_percent_increase", 0, "fail when a size grows by more than this percentage")

	if err := fs.Parse(args); err != nil {
		return 1, err
	}
	if *gotPath == "" {
		return 1, pkgerr.New(pkgerr.BadArgument, "--got is required")
	}

	got, err := openTree(*gotPath)
	if err != nil {
		return 1, err
	}

	if *savePath != "" {
		infos, err := treereader.ReadAll(got)
		if err != nil {
			return 1, err
		}
		f, err := os.Create(*savePath)
		if err != nil {
			return 1, pkgerr.Wrap(pkgerr.IoError, err, "cannot create %s", *savePath)
		}
		if err := treereader.WriteSavedJson(f, infos); err != nil {
			f.Close()
			return 1, err
		}
		return 0, f.Close()
	}

	if *expectedPath == "" {
		return 1, pkgerr.New(pkgerr.BadArgument, "--expected is required unless --save is given")
	}
	expected, err := openTree(*expectedPath)
	if err != nil {
		return 1, err
	}

	opts := compare.Options{
		CompareOwner:               *compareOwner,
		MinimumCompareSize:         *minimumCompareSize,
		ShowDecreases:              *showDecreases,
		MaxAllowedAbsoluteIncrease: *maxAbsoluteIncrease,
		MaxAllowedPercentIncrease:  *maxPercentIncrease,
	}
	if *include != "" {
		opts.Include, err = regexp.Compile(*include)
		if err != nil {
			return 1, pkgerr.Wrap(pkgerr.BadArgument, err, "invalid --include")
		}
	}
	if *exclude != "" {
		opts.Exclude, err = regexp.Compile(*exclude)
		if err != nil {
			return 1, pkgerr.Wrap(pkgerr.BadArgument, err, "invalid --exclude")
		}
	}

	result, err := compare.Compare(expected, got, opts)
	if err != nil {
		return 1, err
	}
	return compare.PrintReport(logrus.StandardLogger(), result), nil
}

// openTree sniffs what kind of tree source path is and wraps it in the
// matching treereader variant. Archives are loaded into memory first; the
// tool compares finished build outputs, not unbounded streams.
func openTree(path string) (treereader.Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot stat %s", path)
	}
	if info.IsDir() {
		return treereader.NewFileSystem(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot read %s", path)
	}
	return readerForBytes(path, data)
}

func readerForBytes(path string, data []byte) (treereader.Reader, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xed, 0xab, 0xee, 0xdb}):
		return treereader.NewRpm(bytes.NewReader(data))
	case bytes.HasPrefix(data, []byte("!<arch>\n")):
		return treereader.NewDeb(bytes.NewReader(data))
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b, 0x08}):
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.DecompressError, err, "bad gzip stream in %s", path)
		}
		return decompressedTar(path, r)
	case bytes.HasPrefix(data, []byte{0x42, 0x5a, 0x68}):
		return decompressedTar(path, bzip2.NewReader(bytes.NewReader(data)))
	case bytes.HasPrefix(data, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}):
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.DecompressError, err, "bad xz stream in %s", path)
		}
		return decompressedTar(path, r)
	case bytes.HasPrefix(data, []byte{0x5d, 0x00, 0x00}):
		r, err := lzma.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.DecompressError, err, "bad lzma stream in %s", path)
		}
		return decompressedTar(path, r)
	case len(data) >= 512 && bytes.Equal(data[257:262], []byte("ustar")):
		return treereader.NewTar(bytes.NewReader(data)), nil
	case firstNonSpace(data) == '[' || firstNonSpace(data) == '{':
		return treereader.NewSavedJson(bytes.NewReader(data))
	default:
		return nil, pkgerr.New(pkgerr.BadMagic, "cannot recognize the format of %s", path)
	}
}

func decompressedTar(path string, r io.Reader) (treereader.Reader, error) {
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.DecompressError, err, "truncated compressed stream in %s", path)
	}
	return treereader.NewTar(bytes.NewReader(plain)), nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
