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

// Package manifest parses the content manifest that drives every archive
// writer in this module: an ordered, tagged list of files, symlinks,
// directories, subtree artifacts and empty files that together describe a
// virtual filesystem tree.
//
// Two JSON shapes are accepted transparently: a modern array of objects,
// and a legacy positional 6-tuple array with an integer-coded entry kind.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf16"

	"github.com/holocm/pkgforge/internal/errcollect"
	"github.com/holocm/pkgforge/internal/pkgerr"
)

// Kind is the tag of a ManifestEntry's variant.
type Kind string

const (
	KindFile       Kind = "file"
	KindSymlink    Kind = "symlink"
	KindRawSymlink Kind = "raw_symlink"
	KindDir        Kind = "dir"
	KindTree       Kind = "tree"
	KindEmptyFile  Kind = "empty_file"
)

// legacyKindByIndex maps the integer codes used by the positional 6-tuple
// manifest form to our Kind.
var legacyKindByIndex = map[int]Kind{
	0: KindFile,
	1: KindTree,
	2: KindSymlink,
	3: KindEmptyFile,
	4: KindDir,
	5: KindRawSymlink,
}

// Entry is a tagged union over the manifest entry kinds. Src is a
// filesystem path for File/Tree, the link target for Symlink/RawSymlink,
// and ignored otherwise. Dest is the path inside the output archive;
// leading slashes are stripped uniformly by callers (pipeline), not here.
type Entry struct {
	Kind       Kind
	Dest       string
	Src        string
	Mode       string // octal string, or "" to mean "use the default"
	User       string
	Group      string
	UID        *uint32
	GID        *uint32
	Origin     string
	Repository string
}

type objectEntry struct {
	Type       string  `json:"type"`
	Dest       string  `json:"dest"`
	Src        string  `json:"src"`
	Mode       string  `json:"mode"`
	User       string  `json:"user"`
	Group      string  `json:"group"`
	UID        *uint32 `json:"uid"`
	GID        *uint32 `json:"gid"`
	Origin     string  `json:"origin"`
	Repository string  `json:"repository"`
}

// ReadEntries reads and parses the manifest file at path, sniffing its text
// encoding and dispatching each array element to the object or positional
// parser as appropriate.
func ReadEntries(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot read manifest %s", path)
	}
	return ParseEntries(raw)
}

// ParseEntries parses manifest content already read into memory, applying
// the same UTF-16LE/UTF-8 sniffing and dual-form support as ReadEntries.
func ParseEntries(raw []byte) ([]Entry, error) {
	decoded, err := decodeManifestText(raw)
	if err != nil {
		return nil, err
	}

	var rawElements []json.RawMessage
	if err := json.Unmarshal(decoded, &rawElements); err != nil {
		return nil, pkgerr.Wrap(pkgerr.ManifestParse, err, "manifest is not a JSON array")
	}

	ec := &errcollect.Collector{}
	entries := make([]Entry, 0, len(rawElements))
	for idx, elem := range rawElements {
		entry, err := parseOneEntry(elem)
		if err != nil {
			ec.Addf("manifest entry %d: %s", idx, err.Error())
			continue
		}
		entries = append(entries, entry)
	}
	if ec.HasErrors() {
		return nil, pkgerr.Wrap(pkgerr.ManifestParse, ec.Err(), "invalid manifest entries")
	}
	return entries, nil
}

// decodeManifestText sniffs the manifest's encoding. If the second byte is
// 0x00, the file is assumed to be UTF-16LE (a legacy host's emission
// format); otherwise it is assumed to be UTF-8 already.
func decodeManifestText(raw []byte) ([]byte, error) {
	if len(raw) >= 2 && raw[1] == 0x00 {
		if len(raw)%2 != 0 {
			return nil, pkgerr.New(pkgerr.ManifestParse, "UTF-16LE manifest has an odd byte length")
		}
		units := make([]uint16, len(raw)/2)
		for i := range units {
			units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
		}
		return []byte(string(utf16.Decode(units))), nil
	}
	return raw, nil
}

func parseOneEntry(raw json.RawMessage) (Entry, error) {
	trimmed := firstNonSpace(raw)
	if trimmed == '[' {
		return parsePositionalEntry(raw)
	}
	return parseObjectEntry(raw)
}

func firstNonSpace(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return b
		}
	}
	return 0
}

func parseObjectEntry(raw json.RawMessage) (Entry, error) {
	var obj objectEntry
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Entry{}, pkgerr.Wrap(pkgerr.ManifestParse, err, "malformed manifest entry")
	}
	kind := Kind(obj.Type)
	if err := validateKind(kind); err != nil {
		return Entry{}, err
	}
	if obj.Dest == "" {
		return Entry{}, pkgerr.New(pkgerr.ManifestParse, "entry is missing required field \"dest\"")
	}
	return Entry{
		Kind:       kind,
		Dest:       obj.Dest,
		Src:        obj.Src,
		Mode:       obj.Mode,
		User:       obj.User,
		Group:      obj.Group,
		UID:        obj.UID,
		GID:        obj.GID,
		Origin:     obj.Origin,
		Repository: obj.Repository,
	}, nil
}

// parsePositionalEntry parses the legacy [type, dest, src, mode, user, group]
// 6-tuple form, where type is a small integer code (see legacyKindByIndex).
func parsePositionalEntry(raw json.RawMessage) (Entry, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return Entry{}, pkgerr.Wrap(pkgerr.ManifestParse, err, "malformed positional manifest entry")
	}
	if len(tuple) != 6 {
		return Entry{}, pkgerr.New(pkgerr.ManifestParse, "positional manifest entry has %d fields, expected 6", len(tuple))
	}

	var typeCode int
	if err := json.Unmarshal(tuple[0], &typeCode); err != nil {
		return Entry{}, pkgerr.Wrap(pkgerr.ManifestParse, err, "positional entry type must be an integer")
	}
	kind, ok := legacyKindByIndex[typeCode]
	if !ok {
		return Entry{}, pkgerr.New(pkgerr.ManifestParse, "unknown legacy entry type code %d", typeCode)
	}

	fields := make([]string, 5)
	for i := 0; i < 5; i++ {
		if err := json.Unmarshal(tuple[i+1], &fields[i]); err != nil {
			return Entry{}, pkgerr.Wrap(pkgerr.ManifestParse, err, "positional entry field %d must be a string", i+1)
		}
	}
	if fields[0] == "" {
		return Entry{}, pkgerr.New(pkgerr.ManifestParse, "entry is missing required field \"dest\"")
	}

	return Entry{
		Kind:  kind,
		Dest:  fields[0],
		Src:   fields[1],
		Mode:  fields[2],
		User:  fields[3],
		Group: fields[4],
	}, nil
}

func validateKind(k Kind) error {
	switch k {
	case KindFile, KindSymlink, KindRawSymlink, KindDir, KindTree, KindEmptyFile:
		return nil
	default:
		return pkgerr.New(pkgerr.ManifestParse, "unknown entry kind %q", string(k))
	}
}

// String implements fmt.Stringer for readable error/log output.
func (e Entry) String() string {
	return fmt.Sprintf("%s %s (src=%s)", e.Kind, e.Dest, e.Src)
}
