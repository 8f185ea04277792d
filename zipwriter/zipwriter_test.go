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

package zipwriter

import (
	"archive/zip"
	"bytes"
	"testing"
	"time"
)

type nopCloserBuf struct{ *bytes.Buffer }

func (nopCloserBuf) Close() error { return nil }

func TestAddFileAndDirAndSymlink(t *testing.T) {
	var buf bytes.Buffer
	w := New(nopCloserBuf{&buf}, "")

	if err := w.Add(Entry{Name: "bin/", Kind: KindDir, Mode: 0o755}); err != nil {
		t.Fatal(err)
	}
	if err := w.Add(Entry{Name: "bin/tool", Kind: KindFile, Content: []byte("hi"), Mode: 0o755}); err != nil {
		t.Fatal(err)
	}
	if err := w.Add(Entry{Name: "bin/tool-link", Kind: KindSymlink, Link: "tool"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("reading back zip: %s", err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("got %d entries, want 3", len(zr.File))
	}

	dirEntry := zr.File[0]
	if dirEntry.Name != "bin/" {
		t.Errorf("dir name = %q", dirEntry.Name)
	}
	if dirEntry.ExternalAttrs>>16&unixModeDir == 0 {
		t.Errorf("dir entry missing unix dir mode bits")
	}

	fileEntry := zr.File[1]
	if fileEntry.Method != zip.Deflate {
		t.Errorf("file entry method = %d, want Deflate", fileEntry.Method)
	}

	linkEntry := zr.File[2]
	if linkEntry.ExternalAttrs>>16&unixModeSymlink == 0 {
		t.Errorf("symlink entry missing unix symlink mode bits")
	}
	rc, err := linkEntry.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	var target bytes.Buffer
	target.ReadFrom(rc)
	if target.String() != "tool" {
		t.Errorf("symlink payload = %q, want tool", target.String())
	}
}

func TestMtimeClampedToZipEpoch(t *testing.T) {
	var buf bytes.Buffer
	w := New(nopCloserBuf{&buf}, "")
	early := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	if err := w.Add(Entry{Name: "x", Kind: KindEmptyFile, Mtime: early}); err != nil {
		t.Fatal(err)
	}
	w.Close()

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	got := zr.File[0].Modified
	if !got.Equal(ZipEpoch) {
		t.Errorf("Modified = %v, want %v", got, ZipEpoch)
	}
}

func TestRootPrefixApplied(t *testing.T) {
	var buf bytes.Buffer
	w := New(nopCloserBuf{&buf}, "pkgroot")
	if err := w.Add(Entry{Name: "etc/conf", Kind: KindEmptyFile}); err != nil {
		t.Fatal(err)
	}
	w.Close()
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if zr.File[0].Name != "pkgroot/etc/conf" {
		t.Fatalf("name = %q, want pkgroot/etc/conf", zr.File[0].Name)
	}
}

func TestAddAfterCloseFails(t *testing.T) {
	var buf bytes.Buffer
	w := New(nopCloserBuf{&buf}, "")
	w.Close()
	if err := w.Add(Entry{Name: "x", Kind: KindEmptyFile}); err == nil {
		t.Fatal("expected WriterClosed error")
	}
}
