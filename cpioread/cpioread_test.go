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

package cpioread

import (
	"bytes"
	"testing"
)

// buildNewc hand-assembles a minimal newc-flavor cpio stream: one regular
// file "hello" containing "hi\n", followed by the TRAILER!!! entry.
func buildNewc(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeNewcEntry(&buf, "hello", 0o100644, 3, 1, 2, []byte("hi\n"))
	writeNewcEntry(&buf, trailerName, 0, 0, 0, 0, nil)
	return buf.Bytes()
}

func writeNewcEntry(buf *bytes.Buffer, name string, mode uint32, ino, uid, gid uint32, data []byte) {
	nameBytes := append([]byte(name), 0)
	buf.WriteString("070701")
	writeHex(buf, ino)
	writeHex(buf, mode)
	writeHex(buf, uid)
	writeHex(buf, gid)
	writeHex(buf, 1)                  // nlink
	writeHex(buf, 0)                  // mtime
	writeHex(buf, uint32(len(data)))  // filesize
	writeHex(buf, 0)                  // devmajor
	writeHex(buf, 0)                  // devminor
	writeHex(buf, 0)                  // rdevmajor
	writeHex(buf, 0)                  // rdevminor
	writeHex(buf, uint32(len(nameBytes))) // namesize
	writeHex(buf, 0)                  // check
	buf.Write(nameBytes)
	padTo4(buf, 6+13*8+len(nameBytes))
	buf.Write(data)
	padTo4(buf, len(data))
}

func writeHex(buf *bytes.Buffer, v uint32) {
	const hex = "0123456789abcdef"
	var out [8]byte
	for i := 7; i >= 0; i-- {
		out[i] = hex[v&0xf]
		v >>= 4
	}
	buf.Write(out[:])
}

func padTo4(buf *bytes.Buffer, lenSoFarFromAlignedStart int) {
	pad := (4 - lenSoFarFromAlignedStart%4) % 4
	for i := 0; i < pad; i++ {
		buf.WriteByte(0)
	}
}

func TestReadNewcEntry(t *testing.T) {
	data := buildNewc(t)
	entries, err := ReadAll(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fi := entries[0]
	if fi.Path != "hello" {
		t.Errorf("Path = %q, want hello", fi.Path)
	}
	if fi.Size != 3 {
		t.Errorf("Size = %d, want 3", fi.Size)
	}
	if fi.UID != 1 || fi.GID != 2 {
		t.Errorf("UID/GID = %d/%d, want 1/2", fi.UID, fi.GID)
	}
	if fi.Inode == nil || *fi.Inode != 3 {
		t.Errorf("Inode = %v, want 3", fi.Inode)
	}
	if fi.IsDir || fi.IsSymlink {
		t.Errorf("unexpected type flags: %+v", fi)
	}
}

func TestReadODCEntry(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("070707")
	writeDecimal(&buf, 0, 6)       // dev
	writeDecimal(&buf, 42, 6)      // ino
	writeDecimal(&buf, 0o100644, 6)
	writeDecimal(&buf, 7, 6)  // uid
	writeDecimal(&buf, 8, 6)  // gid
	writeDecimal(&buf, 1, 6)  // nlink
	writeDecimal(&buf, 0, 6)  // rdev
	writeDecimal(&buf, 0, 11) // mtime
	name := "world"
	nameSize := len(name) + 1
	writeDecimal(&buf, uint64(nameSize), 6)
	data := []byte("ab")
	writeDecimal(&buf, uint64(len(data)), 11)
	buf.WriteString(name)
	buf.WriteByte(0)
	buf.Write(data)

	// trailer
	buf.WriteString("070707")
	for i := 0; i < 7; i++ {
		writeDecimal(&buf, 0, 6)
	}
	writeDecimal(&buf, 0, 11)
	trailerNameSize := len(trailerName) + 1
	writeDecimal(&buf, uint64(trailerNameSize), 6)
	writeDecimal(&buf, 0, 11)
	buf.WriteString(trailerName)
	buf.WriteByte(0)

	entries, err := ReadAll(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fi := entries[0]
	if fi.Path != "world" {
		t.Errorf("Path = %q, want world", fi.Path)
	}
	if fi.UID != 7 || fi.GID != 8 {
		t.Errorf("UID/GID = %d/%d, want 7/8", fi.UID, fi.GID)
	}
	if fi.Size != 2 {
		t.Errorf("Size = %d, want 2", fi.Size)
	}
}

func writeDecimal(buf *bytes.Buffer, v uint64, width int) {
	s := formatPadded(v, width)
	buf.WriteString(s)
}

func formatPadded(v uint64, width int) string {
	digits := []byte{}
	if v == 0 {
		digits = []byte{'0'}
	}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	for len(digits) < width {
		digits = append([]byte{'0'}, digits...)
	}
	return string(digits)
}

func TestBadMagicRejected(t *testing.T) {
	_, err := ReadAll(bytes.NewReader([]byte("abcdef")))
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}
