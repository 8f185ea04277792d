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

// Package tarread streams FileInfo entries out of a POSIX tar archive,
// normalizing hardlinks and symlinks alike to IsSymlink+SymlinkTarget so
// downstream comparators don't need to special-case tar's two link types.
package tarread

import (
	"archive/tar"
	"io"
	"os"

	"github.com/holocm/pkgforge/fileinfo"
	"github.com/holocm/pkgforge/internal/pkgerr"
)

// Reader streams FileInfo entries out of a tar archive.
type Reader struct {
	tr *tar.Reader
}

// NewReader wraps r as a tar Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{tr: tar.NewReader(r)}
}

// Next returns the next entry, or (nil, nil) at end of archive. Entries
// whose normalized name is empty or "./" are skipped, matching the
// reader's no-op treatment of the archive's own root entry.
func (r *Reader) Next() (*fileinfo.FileInfo, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.BadHeader, err, "malformed tar header")
		}

		name := fileinfo.NormalizePath(hdr.Name)
		if name == "" {
			continue
		}

		info := hdr.FileInfo()
		fi := fileinfo.FileInfo{
			Path: name,
			UID:  uint32(hdr.Uid),
			GID:  uint32(hdr.Gid),
		}

		switch info.Mode() & os.ModeType {
		case os.ModeDir:
			fi.IsDir = true
			fi.Mode = fileinfo.TypeDir | uint32(info.Mode().Perm())
		case os.ModeSymlink:
			fi.IsSymlink = true
			fi.SymlinkTarget = hdr.Linkname
			fi.Mode = fileinfo.TypeSymlink | uint32(info.Mode().Perm())
		case 0:
			if hdr.Typeflag == tar.TypeLink {
				// Hardlinks carry no independent content; surface them as
				// symlinks pointing at their target, same as the tar
				// reader's other link type, so comparators don't need to
				// distinguish link kinds.
				fi.IsSymlink = true
				fi.SymlinkTarget = hdr.Linkname
				fi.Mode = fileinfo.TypeSymlink | uint32(info.Mode().Perm())
				return &fi, nil
			}
			fi.Mode = fileinfo.TypeRegular | uint32(info.Mode().Perm())
			fi.Size = hdr.Size
		default:
			return nil, pkgerr.New(pkgerr.BadHeader, "tar entry %s has unrecognized file mode (%o)", hdr.Name, info.Mode())
		}

		return &fi, nil
	}
}

// ReadAll drains the entire archive into a slice.
func ReadAll(r io.Reader) ([]*fileinfo.FileInfo, error) {
	tr := NewReader(r)
	var out []*fileinfo.FileInfo
	for {
		fi, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if fi == nil {
			return out, nil
		}
		out = append(out, fi)
	}
}
