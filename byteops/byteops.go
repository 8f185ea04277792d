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

// Package byteops collects the low-level helpers shared across the archive
// readers and writers: name=value splitting, flag-or-@file value loading,
// network-byte-order integer readers, and NUL-terminated string extraction.
package byteops

import (
	"encoding/binary"
	"os"
	"strings"

	"github.com/holocm/pkgforge/internal/pkgerr"
)

// SplitNameValue splits s on the first occurrence of sep, returning the
// parts before and after it. It fails with BadArgument if sep does not
// occur in s.
func SplitNameValue(s string, sep byte) (name, value string, err error) {
	idx := strings.IndexByte(s, sep)
	if idx < 0 {
		return "", "", pkgerr.New(pkgerr.BadArgument, "malformed name%cvalue pair: %q", sep, s)
	}
	return s[:idx], s[idx+1:], nil
}

// FlagOrFileValue returns v verbatim, unless v begins with "@", in which
// case the remainder is treated as a path whose contents are read and
// returned instead (optionally with trailing whitespace stripped). This is
// the familiar "flag value or @file" convention used by many CLI tools for
// values that may be long (e.g. changelog text, scriptlet bodies).
func FlagOrFileValue(v string, stripTrailingWhitespace bool) (string, error) {
	if !strings.HasPrefix(v, "@") {
		return v, nil
	}
	path := v[1:]
	data, err := os.ReadFile(path)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.IoError, err, "cannot read %s", path)
	}
	s := string(data)
	if stripTrailingWhitespace {
		s = strings.TrimRight(s, " \t\r\n")
	}
	return s, nil
}

// ReadUint8 reads an 8-bit unsigned integer at offset.
func ReadUint8(buf []byte, offset int) uint8 {
	return buf[offset]
}

// ReadUint16BE reads a big-endian 16-bit unsigned integer at offset.
func ReadUint16BE(buf []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(buf[offset : offset+2])
}

// ReadUint32BE reads a big-endian 32-bit unsigned integer at offset.
func ReadUint32BE(buf []byte, offset int) uint32 {
	return binary.BigEndian.Uint32(buf[offset : offset+4])
}

// ReadCString extracts a NUL-terminated UTF-8 string starting at offset,
// returning the string and the offset of the byte following the NUL
// terminator. It fails if no NUL byte is found before the end of buf.
func ReadCString(buf []byte, offset int) (string, int, error) {
	end := offset
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if end >= len(buf) {
		return "", 0, pkgerr.New(pkgerr.ShortRead, "unterminated string at offset %d", offset)
	}
	return string(buf[offset:end]), end + 1, nil
}
