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

package tarread

import (
	"archive/tar"
	"bytes"
	"testing"
)

func buildTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	entries := []tar.Header{
		{Name: "a/", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "a/file.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 5, Uid: 1, Gid: 2},
		{Name: "a/link", Typeflag: tar.TypeSymlink, Linkname: "file.txt", Mode: 0o777},
	}
	for _, h := range entries {
		if err := tw.WriteHeader(&h); err != nil {
			t.Fatal(err)
		}
		if h.Typeflag == tar.TypeReg {
			tw.Write([]byte("hello"))
		}
	}
	tw.Close()
	return buf.Bytes()
}

func TestReadEntries(t *testing.T) {
	entries, err := ReadAll(bytes.NewReader(buildTar(t)))
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if !entries[0].IsDir || entries[0].Path != "a" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Size != 5 || entries[1].UID != 1 || entries[1].GID != 2 {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	if !entries[2].IsSymlink || entries[2].SymlinkTarget != "file.txt" {
		t.Errorf("entry 2 = %+v", entries[2])
	}
}

func TestReadSkipsRootEntry(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.WriteHeader(&tar.Header{Name: "./", Typeflag: tar.TypeDir, Mode: 0o755})
	tw.WriteHeader(&tar.Header{Name: "real.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 1})
	tw.Write([]byte("x"))
	tw.Close()

	entries, err := ReadAll(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if len(entries) != 1 || entries[0].Path != "real.txt" {
		t.Fatalf("entries = %+v", entries)
	}
}
