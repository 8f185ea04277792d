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

// Package fileinfo defines FileInfo, the universal normalized entity
// produced by every archive reader (ar, cpio, tar, rpm, deb) and by the
// filesystem walker, and consumed by the tree comparator.
package fileinfo

// Unix file type bits, as stored in the high bits of Mode (S_IFMT mask
// 0o170000). These mirror the constants a cpio/tar/rpm header encodes its
// file type with.
const (
	TypeMask    = 0o170000
	TypeDir     = 0o040000
	TypeRegular = 0o100000
	TypeSymlink = 0o120000
)

// FileInfo is the normalized, format-independent description of one entry
// in a package or archive.
type FileInfo struct {
	// Path is relative, forward-slash separated, with no leading "./".
	Path string
	// Size is 0 for directories and symlinks.
	Size int64
	// Mode is the 16-bit permission+type field (e.g. 0o100644 for a regular
	// file with mode 0644, 0o040755 for a directory with mode 0755).
	Mode uint32
	UID  uint32
	GID  uint32

	IsDir     bool
	IsSymlink bool
	// SymlinkTarget is populated iff IsSymlink.
	SymlinkTarget string

	// Inode and DataSize are only populated when FileInfo was sourced from
	// a cpio archive; low-level readers use them, but most callers (e.g.
	// the comparator) can ignore them.
	Inode    *uint32
	DataSize *int64
}

// Perm returns the permission bits (masked off the file-type bits).
func (fi FileInfo) Perm() uint32 {
	return fi.Mode &^ TypeMask
}

// NormalizePath strips a leading "./" and any trailing "/" (tar archives
// emit directory entries with one, cpio and filesystem walks don't) so
// that FileInfo.Path is comparable across formats.
func NormalizePath(p string) string {
	for len(p) >= 2 && p[0] == '.' && p[1] == '/' {
		p = p[2:]
	}
	for len(p) > 0 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	if p == "." {
		return ""
	}
	return p
}
