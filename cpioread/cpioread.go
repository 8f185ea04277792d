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

// Package cpioread parses the three cpio header flavors used inside RPM
// payloads and by some legacy packaging pipelines: ODC ASCII ("070707"),
// SVR4 "newc" ASCII ("070701"), and SVR4 "crc" ASCII ("070702"). All three
// emit fileinfo.FileInfo; IsDir/IsSymlink are derived from mode&0o170000
// the same way for every flavor. Field widths follow the cpio(5) family
// description: 8-char hex fields with 4-byte alignment for newc/crc,
// fixed-width decimal fields for ODC.
package cpioread

import (
	"bufio"
	"io"
	"strconv"

	"github.com/holocm/pkgforge/fileinfo"
	"github.com/holocm/pkgforge/internal/pkgerr"
)

const trailerName = "TRAILER!!!"

// Reader streams FileInfo entries out of a cpio archive.
type Reader struct {
	r    *bufio.Reader
	read int64 // total bytes consumed, for alignment math
	done bool
}

// NewReader wraps r as a cpio Reader. The header flavor (ODC vs newc vs
// crc) is auto-detected per-entry from the 6-byte magic.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next entry, or (nil, nil) once the TRAILER!!! sentinel
// has been consumed.
func (c *Reader) Next() (*fileinfo.FileInfo, error) {
	if c.done {
		return nil, nil
	}

	magic, err := c.readN(6)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.ShortRead, err, "cpio: truncated header magic")
	}

	var fi fileinfo.FileInfo
	var dataSize int64
	var name string
	var inode uint32
	aligned := false

	switch string(magic) {
	case "070707":
		fi, dataSize, name, inode, err = c.parseODC()
	case "070701", "070702":
		fi, dataSize, name, inode, err = c.parseNewcOrCRC()
		aligned = true
	default:
		return nil, pkgerr.New(pkgerr.BadMagic, "cpio: unrecognized magic %q", magic)
	}
	if err != nil {
		return nil, err
	}

	if name == trailerName {
		c.done = true
		return nil, nil
	}

	fi.Path = fileinfo.NormalizePath(name)
	fi.Inode = &inode
	fi.DataSize = &dataSize
	fi.IsDir = fi.Mode&fileinfo.TypeMask == fileinfo.TypeDir
	fi.IsSymlink = fi.Mode&fileinfo.TypeMask == fileinfo.TypeSymlink

	data, err := c.readN(int(dataSize))
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.ShortRead, err, "cpio: truncated file data for %s", name)
	}
	if aligned {
		if err := c.alignTo4(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.ShortRead, err, "cpio: truncated data padding for %s", name)
		}
	}
	if fi.IsSymlink {
		fi.SymlinkTarget = string(data)
	} else if !fi.IsDir {
		fi.Size = dataSize
	}

	return &fi, nil
}

func (c *Reader) readN(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(c.r, buf)
	c.read += int64(read)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// alignTo4 consumes padding bytes, if any, so that total bytes read so far
// is a multiple of 4 (newc/crc alignment rule).
func (c *Reader) alignTo4() error {
	pad := (4 - int(c.read%4)) % 4
	_, err := c.readN(pad)
	return err
}

// parseNewcOrCRC reads the 110-byte newc/crc header (6-byte magic already
// consumed): 13 further 8-hex-digit fields, then the NUL-terminated name
// (4-byte aligned), then 4-byte-aligned file data.
func (c *Reader) parseNewcOrCRC() (fi fileinfo.FileInfo, dataSize int64, name string, inode uint32, err error) {
	fields, err := c.readHexFields(13)
	if err != nil {
		return fi, 0, "", 0, err
	}
	inode = uint32(fields[0])
	fi.Mode = fields[1]
	fi.UID = fields[2]
	fi.GID = fields[3]
	nameSize := fields[11]
	fileSize := fields[6]

	nameBytes, err := c.readN(int(nameSize))
	if err != nil {
		return fi, 0, "", 0, pkgerr.Wrap(pkgerr.ShortRead, err, "cpio: truncated entry name")
	}
	if err := c.alignTo4(); err != nil {
		return fi, 0, "", 0, pkgerr.Wrap(pkgerr.ShortRead, err, "cpio: truncated name padding")
	}

	name = cStringTrim(nameBytes)
	dataSize = int64(fileSize)
	return fi, dataSize, name, inode, nil
}

// readHexFields reads n consecutive 8-character hex fields (newc/crc
// layout: ino, mode, uid, gid, nlink, mtime, filesize, devmajor, devminor,
// rdevmajor, rdevminor, namesize, check).
func (c *Reader) readHexFields(n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		buf, err := c.readN(8)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.ShortRead, err, "cpio: truncated header field")
		}
		v, err := strconv.ParseUint(string(buf), 16, 32)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.BadHeader, err, "cpio: malformed hex field %q", buf)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

// parseODC reads the ODC ASCII header (magic "070707" already consumed):
// fixed 6-char decimal fields for dev/ino/mode/uid/gid/nlink/rdev, an
// 11-char mtime, a 6-char namesize, an 11-char filesize, then the
// NUL-terminated name and unaligned file data.
func (c *Reader) parseODC() (fi fileinfo.FileInfo, dataSize int64, name string, inode uint32, err error) {
	dev, err := c.readDecimal(6)
	if err != nil {
		return fi, 0, "", 0, err
	}
	_ = dev
	inodeVal, err := c.readDecimal(6)
	if err != nil {
		return fi, 0, "", 0, err
	}
	mode, err := c.readDecimal(6)
	if err != nil {
		return fi, 0, "", 0, err
	}
	uid, err := c.readDecimal(6)
	if err != nil {
		return fi, 0, "", 0, err
	}
	gid, err := c.readDecimal(6)
	if err != nil {
		return fi, 0, "", 0, err
	}
	if _, err = c.readDecimal(6); err != nil { // nlink
		return fi, 0, "", 0, err
	}
	if _, err = c.readDecimal(6); err != nil { // rdev
		return fi, 0, "", 0, err
	}
	if _, err = c.readDecimal(11); err != nil { // mtime
		return fi, 0, "", 0, err
	}
	nameSize, err := c.readDecimal(6)
	if err != nil {
		return fi, 0, "", 0, err
	}
	fileSize, err := c.readDecimal(11)
	if err != nil {
		return fi, 0, "", 0, err
	}

	// ODC namesize includes the trailing NUL.
	nameBytes, err := c.readN(int(nameSize))
	if err != nil {
		return fi, 0, "", 0, pkgerr.Wrap(pkgerr.ShortRead, err, "cpio: truncated entry name")
	}

	fi.Mode = uint32(mode)
	fi.UID = uint32(uid)
	fi.GID = uint32(gid)
	inode = uint32(inodeVal)
	name = cStringTrim(nameBytes)
	dataSize = int64(fileSize)
	return fi, dataSize, name, inode, nil
}

func (c *Reader) readDecimal(width int) (uint64, error) {
	buf, err := c.readN(width)
	if err != nil {
		return 0, pkgerr.Wrap(pkgerr.ShortRead, err, "cpio: truncated decimal field")
	}
	v, err := strconv.ParseUint(trimLeadingSpaces(string(buf)), 10, 64)
	if err != nil {
		return 0, pkgerr.Wrap(pkgerr.BadHeader, err, "cpio: malformed decimal field %q", buf)
	}
	return v, nil
}

func trimLeadingSpaces(s string) string {
	i := 0
	for i < len(s) && s[i] == ' ' {
		i++
	}
	if i == len(s) {
		return "0"
	}
	return s[i:]
}

func cStringTrim(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// ReadAll drains the entire archive into a slice, for callers that don't
// need streaming.
func ReadAll(r io.Reader) ([]*fileinfo.FileInfo, error) {
	cr := NewReader(r)
	var out []*fileinfo.FileInfo
	for {
		fi, err := cr.Next()
		if err != nil {
			return nil, err
		}
		if fi == nil {
			return out, nil
		}
		out = append(out, fi)
	}
}
