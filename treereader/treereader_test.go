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

package treereader

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/holocm/pkgforge/debbuild"
	"github.com/holocm/pkgforge/tarwriter"
)

func TestFileSystemWalksInOrder(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("hi"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("readme"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("bin/tool", filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	fs, err := NewFileSystem(root)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := ReadAll(fs)
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if !fs.IsDone() {
		t.Fatal("IsDone() = false after exhaustion")
	}

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	want := []string{"README", "bin", "bin/tool", "link"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("walk order mismatch (-want +got):\n%s", diff)
	}

	for _, e := range entries {
		switch e.Path {
		case "bin":
			if !e.IsDir {
				t.Errorf("bin: IsDir = false")
			}
		case "bin/tool":
			if e.Size != 2 {
				t.Errorf("bin/tool: Size = %d, want 2", e.Size)
			}
		case "link":
			if !e.IsSymlink || e.SymlinkTarget != "bin/tool" {
				t.Errorf("link: IsSymlink=%v Target=%q", e.IsSymlink, e.SymlinkTarget)
			}
		}
	}
}

func buildTestTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := tarwriter.New(nopCloser{&buf}, tarwriter.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AddFile(tarwriter.FileEntry{Name: "etc/app.conf", Kind: tarwriter.KindRegular, Content: []byte("key=value\n")}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestTarReadsBackAddedEntries(t *testing.T) {
	data := buildTestTar(t)
	tr := NewTar(bytes.NewReader(data))
	entries, err := ReadAll(tr)
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if !tr.IsDone() {
		t.Fatal("IsDone() = false")
	}
	var found bool
	for _, e := range entries {
		if e.Path == "etc/app.conf" {
			found = true
			if e.Size != int64(len("key=value\n")) {
				t.Errorf("Size = %d", e.Size)
			}
		}
	}
	if !found {
		t.Fatal("etc/app.conf not found in tar readback")
	}
}

func TestDebRoundTrip(t *testing.T) {
	var dataBuf bytes.Buffer
	dw, err := tarwriter.New(nopCloser{&dataBuf}, tarwriter.Options{Compression: tarwriter.CompressionGzip})
	if err != nil {
		t.Fatal(err)
	}
	if err := dw.AddFile(tarwriter.FileEntry{Name: "usr/bin/hello", Kind: tarwriter.KindRegular, Content: []byte("#!/bin/sh\necho hi\n"), Mode: int64Ptr(0o755)}); err != nil {
		t.Fatal(err)
	}
	if err := dw.Close(); err != nil {
		t.Fatal(err)
	}

	deb, err := debbuild.BuildDeb(debbuild.BuildOptions{
		Control: debbuild.ControlFile{Values: map[string]string{
			"Package": "hello", "Version": "1.0", "Architecture": "amd64",
			"Maintainer": "nobody <nobody@example.com>", "Description": "hello package",
		}},
		Data: debbuild.DataFile{Name: "data.tar.gz", Data: dataBuf.Bytes()},
	})
	if err != nil {
		t.Fatalf("BuildDeb: %s", err)
	}

	d, err := NewDeb(bytes.NewReader(deb))
	if err != nil {
		t.Fatalf("NewDeb: %s", err)
	}
	entries, err := ReadAll(d)
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if !d.IsDone() {
		t.Fatal("IsDone() = false")
	}
	var found bool
	for _, e := range entries {
		if e.Path == "usr/bin/hello" {
			found = true
			if e.Perm() != 0o755 {
				t.Errorf("Perm() = %o, want 0755", e.Perm())
			}
		}
	}
	if !found {
		t.Fatal("usr/bin/hello not found in deb readback")
	}
}

func int64Ptr(v int64) *int64 { return &v }

// --- hand-built minimal RPM stream ---

func buildHeaderBytes(data []byte, records []rpmIndexBytes) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x8e, 0xad, 0xe8, 0x01})
	buf.Write([]byte{0, 0, 0, 0})
	binary.Write(&buf, binary.BigEndian, uint32(len(records)))
	binary.Write(&buf, binary.BigEndian, uint32(len(data)))
	for _, r := range records {
		binary.Write(&buf, binary.BigEndian, r.Tag)
		binary.Write(&buf, binary.BigEndian, r.Type)
		binary.Write(&buf, binary.BigEndian, r.Offset)
		binary.Write(&buf, binary.BigEndian, r.Count)
	}
	buf.Write(data)
	return buf.Bytes()
}

type rpmIndexBytes struct {
	Tag, Type, Offset, Count uint32
}

func buildLeadBytes() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xed, 0xab, 0xee, 0xdb})
	buf.Write([]byte{3, 0})
	binary.Write(&buf, binary.BigEndian, uint16(0))
	binary.Write(&buf, binary.BigEndian, uint16(1))
	nvr := make([]byte, 66)
	copy(nvr, "example-1.0-1")
	buf.Write(nvr)
	binary.Write(&buf, binary.BigEndian, uint16(1))
	binary.Write(&buf, binary.BigEndian, uint16(5))
	buf.Write(make([]byte, 16))
	return buf.Bytes()
}

func strField(data *[]byte, s string) uint32 {
	offset := uint32(len(*data))
	*data = append(append(*data, []byte(s)...), 0)
	return offset
}

// buildMinimalNewcCpio assembles a one-file newc cpio stream, mirroring
// cpioread_test.go's buildNewc helper.
func buildMinimalNewcCpio() []byte {
	var buf bytes.Buffer
	writeNewcEntry(&buf, "usr/share/doc/example/README", 0o100644, 1, 0, 0, []byte("hello\n"))
	writeNewcEntry(&buf, "TRAILER!!!", 0, 0, 0, 0, nil)
	return buf.Bytes()
}

func writeNewcEntry(buf *bytes.Buffer, name string, mode uint32, ino, uid, gid uint32, data []byte) {
	nameBytes := append([]byte(name), 0)
	buf.WriteString("070701")
	writeHex(buf, ino)
	writeHex(buf, mode)
	writeHex(buf, uid)
	writeHex(buf, gid)
	writeHex(buf, 1)
	writeHex(buf, 0)
	writeHex(buf, uint32(len(data)))
	writeHex(buf, 0)
	writeHex(buf, 0)
	writeHex(buf, 0)
	writeHex(buf, 0)
	writeHex(buf, uint32(len(nameBytes)))
	writeHex(buf, 0)
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

func TestRpmStreamsCpioPayloadThroughPipe(t *testing.T) {
	var rpmBuf bytes.Buffer
	rpmBuf.Write(buildLeadBytes())
	rpmBuf.Write(buildHeaderBytes(nil, nil)) // empty signature header, already 16-byte aligned

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(buildMinimalNewcCpio()); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	var mainData []byte
	compressorOff := strField(&mainData, "gzip")
	records := []rpmIndexBytes{
		{Tag: 1125, Type: 6, Offset: compressorOff, Count: 1}, // TagPayloadCompressor, TypeString
	}
	mainHeader := buildHeaderBytes(mainData, records)
	rpmBuf.Write(mainHeader)
	rpmBuf.Write(compressed.Bytes())

	r, err := NewRpm(bytes.NewReader(rpmBuf.Bytes()))
	if err != nil {
		t.Fatalf("NewRpm: %s", err)
	}
	entries, err := ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if !r.IsDone() {
		t.Fatal("IsDone() = false")
	}
	if r.Package().Lead.Name() != "example-1.0-1" {
		t.Errorf("Package().Lead.Name() = %q", r.Package().Lead.Name())
	}
	var found bool
	for _, e := range entries {
		if e.Path == "usr/share/doc/example/README" {
			found = true
			if e.Size != 6 {
				t.Errorf("Size = %d, want 6", e.Size)
			}
		}
	}
	if !found {
		t.Fatalf("README entry not found, got %+v", entries)
	}
}

func TestSavedJsonRoundTrip(t *testing.T) {
	entries, err := ReadAll(NewTar(bytes.NewReader(buildTestTar(t))))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteSavedJson(&buf, entries); err != nil {
		t.Fatalf("WriteSavedJson: %s", err)
	}

	sj, err := NewSavedJson(&buf)
	if err != nil {
		t.Fatalf("NewSavedJson: %s", err)
	}
	got, err := ReadAll(sj)
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if !sj.IsDone() {
		t.Fatal("IsDone() = false")
	}
	if diff := cmp.Diff(entries, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
