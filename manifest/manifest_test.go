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

package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"
)

func TestParseObjectForm(t *testing.T) {
	input := `[
		{"type": "file", "dest": "etc/a", "src": "A", "mode": "0644", "user": "root", "group": "root"},
		{"type": "symlink", "dest": "usr/bin/java", "src": "/path/to/bin/java"},
		{"type": "dir", "dest": "foodir", "mode": "0711"}
	]`
	entries, err := ParseEntries([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Kind != KindFile || entries[0].Dest != "etc/a" || entries[0].Src != "A" {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[1].Kind != KindSymlink || entries[1].Src != "/path/to/bin/java" {
		t.Fatalf("entry 1 = %+v", entries[1])
	}
	if entries[2].Kind != KindDir || entries[2].Mode != "0711" {
		t.Fatalf("entry 2 = %+v", entries[2])
	}
}

func TestParsePositionalLegacyForm(t *testing.T) {
	// [type, dest, src, mode, user, group]; type 0 = file, 4 = dir, 2 = symlink
	input := `[
		[0, "etc/a", "A", "0644", "root", "root"],
		[4, "foodir", "", "0711", "root", "root"],
		[2, "usr/bin/java", "/path/to/bin/java", "", "", ""]
	]`
	entries, err := ParseEntries([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if entries[0].Kind != KindFile || entries[0].Dest != "etc/a" {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[1].Kind != KindDir || entries[1].Mode != "0711" {
		t.Fatalf("entry 1 = %+v", entries[1])
	}
	if entries[2].Kind != KindSymlink || entries[2].Src != "/path/to/bin/java" {
		t.Fatalf("entry 2 = %+v", entries[2])
	}
}

func TestParseRejectsMissingDest(t *testing.T) {
	_, err := ParseEntries([]byte(`[{"type": "file", "src": "A"}]`))
	if err == nil {
		t.Fatal("expected error for missing dest")
	}
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := ParseEntries([]byte(`[{"type": "bogus", "dest": "x"}]`))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := ParseEntries([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestReadEntriesSniffsUTF16LE(t *testing.T) {
	text := `[{"type": "file", "dest": "etc/a", "src": "A"}]`
	units := utf16.Encode([]rune(text))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		buf = append(buf, byte(u), byte(u>>8))
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := ReadEntries(path)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(entries) != 1 || entries[0].Dest != "etc/a" {
		t.Fatalf("entries = %+v", entries)
	}
}
