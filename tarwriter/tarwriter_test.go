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

package tarwriter

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"
)

type nopCloserBuf struct{ *bytes.Buffer }

func (nopCloserBuf) Close() error { return nil }

func readAllTar(t *testing.T, data []byte) []*tar.Header {
	t.Helper()
	tr := tar.NewReader(bytes.NewReader(data))
	var hdrs []*tar.Header
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return hdrs
		}
		if err != nil {
			t.Fatalf("reading tar: %s", err)
		}
		hdrs = append(hdrs, hdr)
	}
}

func TestAddFileSynthesizesParentDirs(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(nopCloserBuf{&buf}, Options{Mtime: PortableMtime})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AddFile(FileEntry{Name: "a/b/c.txt", Kind: KindRegular, Content: []byte("hi")}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	hdrs := readAllTar(t, buf.Bytes())
	names := make([]string, len(hdrs))
	for i, h := range hdrs {
		names[i] = h.Name
	}
	want := []string{"./a/", "./a/b/", "./a/b/c.txt"}
	if len(names) != len(want) {
		t.Fatalf("got entries %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
	for _, h := range hdrs {
		if h.ModTime.Unix() != PortableMtime {
			t.Errorf("entry %s mtime = %d, want %d", h.Name, h.ModTime.Unix(), PortableMtime)
		}
	}
}

func TestAddFileEmptyNameIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(nopCloserBuf{&buf}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AddFile(FileEntry{Name: ".", Kind: KindRegular}); err != nil {
		t.Fatal(err)
	}
	w.Close()
	if len(readAllTar(t, buf.Bytes())) != 0 {
		t.Fatal("expected no entries for a no-op add_file")
	}
}

func TestDuplicateNonDirectorySkipped(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(nopCloserBuf{&buf}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AddFile(FileEntry{Name: "x.txt", Kind: KindRegular, Content: []byte("1")}); err != nil {
		t.Fatal(err)
	}
	if err := w.AddFile(FileEntry{Name: "x.txt", Kind: KindRegular, Content: []byte("2")}); err != nil {
		t.Fatal(err)
	}
	w.Close()
	hdrs := readAllTar(t, buf.Bytes())
	if len(hdrs) != 1 {
		t.Fatalf("got %d entries, want 1 (duplicate should be skipped)", len(hdrs))
	}
}

func TestRootPrefixAppliedToRelativeNames(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(nopCloserBuf{&buf}, Options{RootPrefix: "pkgroot"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AddFile(FileEntry{Name: "etc/conf", Kind: KindRegular, Content: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	w.Close()
	hdrs := readAllTar(t, buf.Bytes())
	last := hdrs[len(hdrs)-1]
	if last.Name != "./pkgroot/etc/conf" {
		t.Fatalf("name = %q, want ./pkgroot/etc/conf", last.Name)
	}
}

func TestWriterClosedAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(nopCloserBuf{&buf}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if err := w.AddFile(FileEntry{Name: "x", Kind: KindRegular}); err == nil {
		t.Fatal("expected WriterClosed error")
	}
}

func TestAddTarMergeRewritesOwnership(t *testing.T) {
	var src bytes.Buffer
	stw := tar.NewWriter(&src)
	if err := stw.WriteHeader(&tar.Header{Name: "foo.txt", Size: 3, Mode: 0o644, Uid: 500, Gid: 500, Uname: "alice", Gname: "alice"}); err != nil {
		t.Fatal(err)
	}
	stw.Write([]byte("abc"))
	stw.Close()

	var buf bytes.Buffer
	w, err := New(nopCloserBuf{&buf}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	rootUID, rootGID := 0, 0
	if err := w.AddTar(&src, AddTarOptions{RootUID: &rootUID, RootGID: &rootGID, Numeric: true, Root: "sub"}); err != nil {
		t.Fatal(err)
	}
	w.Close()

	hdrs := readAllTar(t, buf.Bytes())
	var found *tar.Header
	for _, h := range hdrs {
		if h.Name == "./sub/foo.txt" {
			found = h
		}
	}
	if found == nil {
		t.Fatalf("entry ./sub/foo.txt not found in %v", hdrs)
	}
	if found.Uid != 0 || found.Gid != 0 {
		t.Errorf("uid/gid = %d/%d, want 0/0", found.Uid, found.Gid)
	}
	if found.Uname != "" || found.Gname != "" {
		t.Errorf("uname/gname = %q/%q, want empty (numeric)", found.Uname, found.Gname)
	}
}
