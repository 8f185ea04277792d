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

package rpmbuild

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindOutputFile(t *testing.T) {
	log := "Processing files: foo-1.0-1.noarch\n" +
		"Wrote: /tmp/rpmbuild/RPMS/noarch/foo-1.0-1.noarch.rpm\n"
	got := findOutputFile(log)
	want := "/tmp/rpmbuild/RPMS/noarch/foo-1.0-1.noarch.rpm"
	if got != want {
		t.Errorf("findOutputFile() = %q, want %q", got, want)
	}
}

func TestFindOutputFileMissing(t *testing.T) {
	if got := findOutputFile("error: bad %files\n"); got != "" {
		t.Errorf("findOutputFile() = %q, want empty", got)
	}
}

func TestSubstituteTemplate(t *testing.T) {
	in := "%install\n$VERSION_FROM_FILE ${RELEASE_FROM_FILE} $UNKNOWN\n"
	out := substituteTemplate(in, map[string]string{
		"VERSION_FROM_FILE": "1.2.3",
		"RELEASE_FROM_FILE": "1",
	})
	want := "%install\n1.2.3 1 $UNKNOWN\n"
	if out != want {
		t.Errorf("substituteTemplate() = %q, want %q", out, want)
	}
}

func TestWriteSpecFileRewritesVersionAndRelease(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		SpecFile: []byte("Name: foo\nVersion: 0\nRelease: 0\n%description\nPRE_SCRIPTLET\n"),
		Version:  "1.0",
		Release:  "2",
	}
	name, err := writeSpecFile(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	if name != "package.spec" {
		t.Errorf("spec file name = %q", name)
	}
	written, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(written), "\nVersion: 1.0\nRelease: 2\n") {
		t.Errorf("spec file = %q, want Version: 1.0 and Release: 2", written)
	}
}
