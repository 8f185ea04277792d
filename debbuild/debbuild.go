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

// Package debbuild assembles Debian binary packages (.deb): an AR archive
// containing debian-binary, control.tar.gz, and data.<ext>, plus a
// .changes sidecar carrying package checksums. The control tarball and the
// outer AR archive are produced with the module's own tarwriter/arfmt
// rather than by shelling out to tar/ar; the data member is embedded from
// the caller's prebuilt bytes as-is.
package debbuild

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/holocm/pkgforge/arfmt"
	"github.com/holocm/pkgforge/tarwriter"
)

// ControlField is one entry of the ordered control-file schema.
type ControlField struct {
	Name      string
	Value     string // single-line or pre-joined list value
	Mandatory bool
	Wrap      bool
}

// controlFieldOrder is the ordered schema of Debian binary control files.
var controlFieldOrder = []string{
	"Package", "Version", "Section", "Priority", "Architecture",
	"Depends", "Recommends", "Replaces", "Suggests", "Enhances",
	"Conflicts", "Breaks", "Pre-Depends", "Installed-Size", "Maintainer",
	"Description", "Homepage", "Built-Using", "Distribution", "Urgency",
}

// ControlFile holds the value (and wrap flag) for each named field. Fields
// absent from Values are emitted only if they're in mandatoryFields.
type ControlFile struct {
	Values map[string]string
	Wrap   map[string]bool
}

var mandatoryFields = map[string]bool{
	"Package": true, "Version": true, "Architecture": true, "Maintainer": true, "Description": true,
}

var defaultFields = map[string]string{
	"Section":      "contrib/devel",
	"Priority":     "optional",
	"Architecture": "all",
	"Distribution": "unstable",
	"Urgency":      "medium",
}

// RenderControl assembles the control file text: a field is emitted iff it
// is mandatory or has a non-empty value; defaults apply when the caller
// left Architecture/Section/Priority/Distribution/Urgency unset or empty.
func RenderControl(c ControlFile) string {
	var buf strings.Builder
	for _, name := range controlFieldOrder {
		value := c.Values[name]
		if value == "" {
			value = defaultFields[name]
		}
		if value == "" && !mandatoryFields[name] {
			continue
		}
		if c.Wrap[name] {
			value = wrapText(value, 76)
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		lines := strings.Split(value, "\n")
		buf.WriteString(lines[0])
		buf.WriteByte('\n')
		for _, cont := range lines[1:] {
			buf.WriteByte(' ')
			buf.WriteString(cont)
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// JoinList joins a list-valued field's entries with ", ", the Debian
// control-file convention for Depends/Recommends/etc.
func JoinList(items []string) string {
	return strings.Join(items, ", ")
}

// wrapText wraps s to width columns without breaking on hyphens or inside
// words (a plain greedy word-wrap; Debian description continuation lines
// are indented by the caller via RenderControl's leading space).
func wrapText(s string, width int) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return s
	}
	var lines []string
	line := words[0]
	for _, word := range words[1:] {
		if len(line)+1+len(word) > width {
			lines = append(lines, line)
			line = word
			continue
		}
		line += " " + word
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}

// DataFile describes the payload to embed as data.<ext>.
type DataFile struct {
	Name string // e.g. "data.tar.xz"; extension drives the AR member name
	Data []byte
}

// DataExt derives the deb data member extension from a file name's suffix,
// defaulting to "tar" for anything unrecognized.
func DataExt(name string) string {
	for _, ext := range []string{"tar.gz", "tar.bz2", "tar.xz", "tar.lzma", "tar"} {
		if strings.HasSuffix(name, "."+ext) {
			return ext
		}
	}
	return "tar"
}

// ScriptFile is one maintainer script or control-tarball extra (preinst,
// postinst, prerm, postrm, config, templates, conffiles).
type ScriptFile struct {
	Name string
	Data []byte
	Mode int64
}

// BuildOptions configures BuildDeb.
type BuildOptions struct {
	Control   ControlFile
	Scripts   []ScriptFile
	Conffiles []string
	Data      DataFile
	Mtime     int64 // tar/ar mtime for reproducible builds; 0 writes epoch 0 (1970-01-01)
}

// BuildDeb assembles a complete .deb file and returns its bytes.
func BuildDeb(opts BuildOptions) ([]byte, error) {
	controlTar, err := buildControlTarGz(opts)
	if err != nil {
		return nil, err
	}

	ext := DataExt(opts.Data.Name)
	var out bytes.Buffer
	w, err := arfmt.NewWriter(&out)
	if err != nil {
		return nil, err
	}
	modTime := time.Unix(opts.Mtime, 0)
	entries := []arfmt.Entry{
		{Name: "debian-binary", ModTime: modTime, Mode: 0o100644, Data: []byte("2.0\n")},
		{Name: "control.tar.gz", ModTime: modTime, Mode: 0o100644, Data: controlTar},
		{Name: "data." + ext, ModTime: modTime, Mode: 0o100644, Data: opts.Data.Data},
	}
	for _, e := range entries {
		if err := w.AddEntry(e); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func buildControlTarGz(opts BuildOptions) ([]byte, error) {
	var buf bytes.Buffer
	tw, err := tarwriter.New(nopWriteCloser{&buf}, tarwriter.Options{
		Mtime:       opts.Mtime,
		Compression: tarwriter.CompressionGzip,
	})
	if err != nil {
		return nil, err
	}

	controlText := RenderControl(opts.Control)
	if err := tw.AddFile(tarwriter.FileEntry{Name: "control", Kind: tarwriter.KindRegular, Content: []byte(controlText)}); err != nil {
		return nil, err
	}

	md5sums := buildMD5Sums(opts.Scripts)
	if err := tw.AddFile(tarwriter.FileEntry{Name: "md5sums", Kind: tarwriter.KindRegular, Content: []byte(md5sums)}); err != nil {
		return nil, err
	}

	for _, s := range opts.Scripts {
		mode := s.Mode
		if mode == 0 {
			mode = 0o755
		}
		if err := tw.AddFile(tarwriter.FileEntry{Name: s.Name, Kind: tarwriter.KindRegular, Content: s.Data, Mode: &mode}); err != nil {
			return nil, err
		}
	}
	if len(opts.Conffiles) > 0 {
		content := strings.Join(opts.Conffiles, "\n") + "\n"
		if err := tw.AddFile(tarwriter.FileEntry{Name: "conffiles", Kind: tarwriter.KindRegular, Content: []byte(content)}); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildMD5Sums computes MD5 sums for the maintainer scripts of the control
// tarball; control, md5sums and conffiles are not listed.
func buildMD5Sums(scripts []ScriptFile) string {
	names := make([]string, 0, len(scripts))
	sums := make(map[string]string, len(scripts))
	for _, s := range scripts {
		names = append(names, s.Name)
		sum := md5.Sum(s.Data)
		sums[s.Name] = hex.EncodeToString(sum[:])
	}
	sort.Strings(names)
	var buf strings.Builder
	for _, name := range names {
		fmt.Fprintf(&buf, "%s  %s\n", sums[name], name)
	}
	return buf.String()
}

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

// ChangesFields holds the non-computed fields of a .changes file.
type ChangesFields struct {
	Source       string
	Binary       string
	Architecture string
	Version      string
	Distribution string
	Urgency      string
	Maintainer   string
	ChangedBy    string // defaults to Maintainer if empty
	Description  string
	Changes      string
	Date         time.Time
}

// BuildChanges renders a .changes sidecar for debFile, whose size and
// digests are computed here.
func BuildChanges(fields ChangesFields, debFileName string, debFile []byte) string {
	changedBy := fields.ChangedBy
	if changedBy == "" {
		changedBy = fields.Maintainer
	}

	md5sum := md5.Sum(debFile)
	sha1sum := sha1.Sum(debFile)
	sha256sum := sha256.Sum256(debFile)
	size := len(debFile)

	var buf strings.Builder
	fmt.Fprintf(&buf, "Format: 1.8\n")
	fmt.Fprintf(&buf, "Date: %s\n", fields.Date.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Source: %s\n", fields.Source)
	fmt.Fprintf(&buf, "Binary: %s\n", fields.Binary)
	fmt.Fprintf(&buf, "Architecture: %s\n", fields.Architecture)
	fmt.Fprintf(&buf, "Version: %s\n", fields.Version)
	fmt.Fprintf(&buf, "Distribution: %s\n", fields.Distribution)
	fmt.Fprintf(&buf, "Urgency: %s\n", fields.Urgency)
	fmt.Fprintf(&buf, "Maintainer: %s\n", fields.Maintainer)
	fmt.Fprintf(&buf, "Changed-By: %s\n", changedBy)
	fmt.Fprintf(&buf, "Description:\n %s\n", fields.Description)
	fmt.Fprintf(&buf, "Changes:\n %s\n", fields.Changes)
	fmt.Fprintf(&buf, "Files:\n %s %d %s\n", hex.EncodeToString(md5sum[:]), size, debFileName)
	fmt.Fprintf(&buf, "Checksums-Sha1:\n %s %d %s\n", hex.EncodeToString(sha1sum[:]), size, debFileName)
	fmt.Fprintf(&buf, "Checksums-Sha256:\n %s %d %s\n", hex.EncodeToString(sha256sum[:]), size, debFileName)
	return buf.String()
}
