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

// Command dump_package reads a package file from stdin and renders a
// textual representation of it: the compression and archive formats used,
// and all file metadata contained within the archives. Nested formats are
// deconstructed recursively, so a .deb dumps as an ar archive whose
// members dump as gzip-compressed tars, and an RPM dumps its lead,
// headers, and decompressed cpio payload.
//
//	$ tar cJf foo.tar.xz foo/
//	$ dump_package < foo.tar.xz
//	XZ-compressed POSIX tar archive
//	    >> foo/ is directory (mode: 755, owner: 1000, group: 1000)
//	    >> foo/bar is regular file (mode: 600, owner: 1000, group: 1000), content is data as shown below
//	        Hello World!
//	    >> foo/baz is symlink to bar
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	withChecksums := len(os.Args) > 1 && os.Args[1] == "--with-checksums"

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	dump, err := recognizeAndDump(data, withChecksums)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println(dump)
}
