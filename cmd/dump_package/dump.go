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

package main

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	cpio "github.com/surma/gocpio"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/holocm/pkgforge/arfmt"
	"github.com/holocm/pkgforge/cpioread"
	"github.com/holocm/pkgforge/rpmread"
)

// indent prefixes every line of dump with four spaces, normalizing the
// trailing newline so nesting levels stack cleanly.
func indent(dump string) string {
	dump = strings.TrimSuffix(dump, "\n")
	const prefix = "    "
	return prefix + strings.ReplaceAll(dump, "\n", "\n"+prefix) + "\n"
}

// recognizeAndDump converts binary input data into a readable dump by
// sniffing the usual compression and archive magic numbers, recursing into
// whatever the outer layer contains.
func recognizeAndDump(data []byte, withChecksums bool) (string, error) {
	if len(data) == 0 {
		return "empty file\n", nil
	}

	var (
		result string
		err    error
	)
	switch {
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b, 0x08}):
		result, err = dumpGz(data, withChecksums)
	case bytes.HasPrefix(data, []byte{0x42, 0x5a, 0x68}):
		result, err = dumpBz2(data, withChecksums)
	case bytes.HasPrefix(data, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}):
		result, err = dumpXz(data, withChecksums)
	case bytes.HasPrefix(data, []byte{0x5d, 0x00, 0x00}):
		result, err = dumpLzma(data, withChecksums)
	case len(data) >= 512 && bytes.Equal(data[257:262], []byte("ustar")):
		result, err = dumpTar(data, withChecksums)
	case bytes.HasPrefix(data, []byte("!<arch>\n")):
		result, err = dumpAr(data, withChecksums)
	case bytes.HasPrefix(data, []byte("070701")) || bytes.HasPrefix(data, []byte("070702")):
		result, err = dumpCpio(data, withChecksums)
	case bytes.HasPrefix(data, []byte("070707")):
		result, err = dumpOdcCpio(data)
	case bytes.HasPrefix(data, []byte{0xed, 0xab, 0xee, 0xdb}):
		result, err = dumpRpm(data, withChecksums)
	default:
		result = "data as shown below\n" + indent(string(data))
	}
	if err != nil {
		return "", err
	}

	if withChecksums {
		checksum := sha256.Sum256(data)
		result = "(sha256:" + hex.EncodeToString(checksum[:]) + ") " + result
	}
	return result, nil
}

func dumpGz(data []byte, withChecksums bool) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	dump, err := recognizeAndDump(plain, withChecksums)
	return "GZip-compressed " + dump, err
}

func dumpBz2(data []byte, withChecksums bool) (string, error) {
	plain, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(data)))
	if err != nil {
		return "", err
	}
	dump, err := recognizeAndDump(plain, withChecksums)
	return "BZip2-compressed " + dump, err
}

func dumpXz(data []byte, withChecksums bool) (string, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	dump, err := recognizeAndDump(plain, withChecksums)
	return "XZ-compressed " + dump, err
}

func dumpLzma(data []byte, withChecksums bool) (string, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	dump, err := recognizeAndDump(plain, withChecksums)
	return "LZMA-compressed " + dump, err
}

func dumpTar(data []byte, withChecksums bool) (string, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	var header *tar.Header
	var err error

	return dumpArchiveGeneric(
		"POSIX tar archive", withChecksums, tr,
		func() (string, error) {
			header, err = tr.Next()
			if err != nil {
				return "", err
			}
			return header.Name, nil
		},
		func(idx int) (string, bool, bool, error) {
			info := header.FileInfo()
			str := ""
			isRegular := false
			switch info.Mode() & os.ModeType {
			case os.ModeDir:
				str = "directory"
			case os.ModeSymlink:
				return "symlink to " + header.Linkname, false, false, nil
			case 0:
				str = "regular file"
				isRegular = true
			default:
				return "", false, false, fmt.Errorf("tar entry %s has unrecognized file mode (%o)", header.Name, info.Mode())
			}
			str += fmt.Sprintf(" (mode: %o, owner: %d, group: %d)",
				info.Mode()&os.ModePerm, header.Uid, header.Gid,
			)
			return str, isRegular, false, nil
		},
	)
}

func dumpAr(data []byte, withChecksums bool) (string, error) {
	entries, err := arfmt.ReadAll(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	dump := ""
	for idx, e := range entries {
		str := fmt.Sprintf(">> %s is regular file (mode: %o, owner: %d, group: %d)",
			e.Name, e.Mode, e.UID, e.GID,
		)
		// debian-binary must be the first member of a .deb, so record its
		// position for test output to assert on.
		if e.Name == "debian-binary" {
			str += fmt.Sprintf(" at archive position %d", idx)
		}
		inner, err := recognizeAndDump(e.Data, withChecksums)
		if err != nil {
			return "", err
		}
		dump += str + ", content is " + inner
	}
	return "ar archive\n" + indent(dump), nil
}

func dumpCpio(data []byte, withChecksums bool) (string, error) {
	cr := cpio.NewReader(bytes.NewReader(data))
	var header *cpio.Header
	var err error

	return dumpArchiveGeneric(
		"cpio archive", withChecksums, cr,
		func() (string, error) {
			header, err = cr.Next()
			if err != nil {
				return "", err
			}
			if header.IsTrailer() {
				return "", io.EOF
			}
			return header.Name, nil
		},
		func(idx int) (string, bool, bool, error) {
			str := ""
			isRegular, isSymlink := false, false
			switch header.Type {
			case cpio.TYPE_SOCK:
				str = "socket"
			case cpio.TYPE_SYMLINK:
				str = "symlink"
				isSymlink = true
			case cpio.TYPE_REG:
				str = "regular file"
				isRegular = true
			case cpio.TYPE_BLK:
				str = "block special device"
			case cpio.TYPE_DIR:
				str = "directory"
			case cpio.TYPE_CHAR:
				str = "character special device"
			case cpio.TYPE_FIFO:
				str = "named pipe (FIFO)"
			}
			if !isSymlink {
				str += fmt.Sprintf(" (mode: %o, owner: %d, group: %d)",
					header.Mode, header.Uid, header.Gid,
				)
			}
			return str, isRegular, isSymlink, nil
		},
	)
}

// dumpOdcCpio handles the pre-SVR4 ODC flavor, which gocpio does not
// parse; the module's own reader does, but yields metadata only, so entry
// content is not recursed into.
func dumpOdcCpio(data []byte) (string, error) {
	infos, err := cpioread.ReadAll(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	dump := ""
	for _, fi := range infos {
		switch {
		case fi.IsSymlink:
			dump += fmt.Sprintf(">> %s is symlink to %s\n", fi.Path, fi.SymlinkTarget)
		case fi.IsDir:
			dump += fmt.Sprintf(">> %s is directory (mode: %o, owner: %d, group: %d)\n",
				fi.Path, fi.Perm(), fi.UID, fi.GID)
		default:
			dump += fmt.Sprintf(">> %s is regular file (mode: %o, owner: %d, group: %d), %d bytes\n",
				fi.Path, fi.Perm(), fi.UID, fi.GID, fi.Size)
		}
	}
	return "cpio archive (ODC)\n" + indent(dump), nil
}

func dumpRpm(data []byte, withChecksums bool) (string, error) {
	pkg, err := rpmread.Read(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	metadata := fmt.Sprintf(
		">> name: %s\n>> summary: %s\n>> buildhost: %s\n>> vendor: %s\n>> license: %s\n>> os/arch: %s/%s\n>> payload compressor: %s\n",
		pkg.Lead.Name(), pkg.Summary, pkg.BuildHost, pkg.Vendor,
		pkg.License, pkg.OS, pkg.Arch, pkg.PayloadCompressor,
	)

	var payload bytes.Buffer
	if err := pkg.StreamCpio(&payload); err != nil {
		return "", err
	}
	payloadDump, err := recognizeAndDump(payload.Bytes(), withChecksums)
	if err != nil {
		return "", err
	}

	return "RPM package\n" + indent(metadata) + indent(">> payload: "+payloadDump), nil
}

// dumpArchiveGeneric is the shared loop of dumpTar and dumpCpio: advance
// to the next entry, read its content, describe it, and recurse into
// regular files. Entries are rendered sorted by name so that archives
// built from unordered walks still dump deterministically.
func dumpArchiveGeneric(typeString string, withChecksums bool, reader io.Reader, gotoNextEntry func() (string, error), describeEntry func(idx int) (string, bool, bool, error)) (string, error) {
	dumps := make(map[string]string)
	var names []string

	idx := -1
	for {
		idx++

		name, err := gotoNextEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			return "", err
		}

		description, isRegular, isSymlink, err := describeEntry(idx)
		if err != nil {
			return "", err
		}
		str := fmt.Sprintf(">> %s is %s", name, description)

		if isRegular {
			dump, err := recognizeAndDump(data, withChecksums)
			if err != nil {
				return "", err
			}
			str += ", content is " + dump
		} else {
			if isSymlink {
				str += " to " + string(data)
			}
			str += "\n"
		}

		names = append(names, name)
		dumps[name] = str
	}

	sort.Strings(names)
	dump := ""
	for _, name := range names {
		dump += dumps[name]
	}

	return typeString + "\n" + indent(dump), nil
}
