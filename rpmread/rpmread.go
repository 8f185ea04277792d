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

// Package rpmread parses the binary structures RPM packages are built from
// (lead, signature header, main header) and exposes the compressed cpio
// payload through the compressor selected by the main header's
// PayloadCompressor tag. The structures follow the LSB package-format
// description: a 96-byte lead, then two index-record headers (signature,
// 8-byte aligned, then main), then the compressed payload.
package rpmread

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"encoding/binary"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/holocm/pkgforge/internal/pkgerr"
)

// Header value-type codes, per the LSB package-format description.
const (
	TypeNull        = 0
	TypeChar        = 1
	TypeInt8        = 2
	TypeInt16       = 3
	TypeInt32       = 4
	TypeInt64       = 5
	TypeString      = 6
	TypeBin         = 7
	TypeStringArray = 8
	TypeI18NString  = 9
)

// Tags this reader recognizes.
const (
	TagSummary           = 1004
	TagDescription       = 1005
	TagBuildTime         = 1006
	TagBuildHost         = 1007
	TagSize              = 1009
	TagDistribution      = 1010
	TagVendor            = 1011
	TagLicense           = 1014
	TagOs                = 1021
	TagArch              = 1022
	TagPayloadCompressor = 1125
)

var leadMagic = [4]byte{0xed, 0xab, 0xee, 0xdb}
var headerMagic = [3]byte{0x8e, 0xad, 0xe8}

// Lead is the 96-byte legacy RPM lead.
type Lead struct {
	Magic              [4]byte
	Version            [2]byte
	Type               uint16
	Architecture       uint16
	NameVersionRelease [66]byte
	OperatingSystem    uint16
	SignatureType      uint16
	Reserved           [16]byte
}

// Name returns the NUL-terminated name-version-release string.
func (l Lead) Name() string {
	n := 0
	for n < len(l.NameVersionRelease) && l.NameVersionRelease[n] != 0 {
		n++
	}
	return string(l.NameVersionRelease[:n])
}

// IndexRecord is one key-value entry in a Header.
type IndexRecord struct {
	Tag    uint32
	Type   uint32
	Offset uint32
	Count  uint32
}

// Header is a parsed RPM header section (signature or main).
type Header struct {
	Records []IndexRecord
	Data    []byte
}

// Package is the fully parsed RPM metadata plus a handle on the remaining
// payload stream.
type Package struct {
	Lead      Lead
	Signature Header
	Main      Header

	Summary           string
	Description       string
	BuildTime         int32
	BuildHost         string
	Size              int32
	Distribution      string
	Vendor            string
	License           string
	OS                string
	Arch              string
	PayloadCompressor string

	payloadReader io.Reader
}

// Read parses the lead, signature header, and main header from r. Reads
// from r are buffered, so r itself may be read past the headers; the
// compressed cpio payload stays available to StreamCpio.
func Read(r io.Reader) (*Package, error) {
	br := bufio.NewReader(r)

	lead, err := readLead(br)
	if err != nil {
		return nil, err
	}
	if lead.Magic != leadMagic {
		return nil, pkgerr.New(pkgerr.BadMagic, "rpm: bad lead magic %x", lead.Magic)
	}
	if lead.Version[0] != 3 {
		return nil, pkgerr.New(pkgerr.BadHeader, "rpm: unsupported lead major version %d", lead.Version[0])
	}
	if lead.SignatureType != 5 {
		return nil, pkgerr.New(pkgerr.BadHeader, "rpm: unsupported signature_type %d", lead.SignatureType)
	}

	sigHeader, sigBytesRead, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	if err := skipToAlign8(br, sigBytesRead); err != nil {
		return nil, err
	}

	mainHeader, _, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	pkg := &Package{Lead: *lead, Signature: *sigHeader, Main: *mainHeader}
	if err := pkg.populateFromMainHeader(); err != nil {
		return nil, err
	}

	pkg.payloadReader = br
	return pkg, nil
}

type taggedValue struct {
	str   string
	i32   int32
	found bool
}

func (h Header) lookup(tag uint32) taggedValue {
	for _, rec := range h.Records {
		if rec.Tag != tag {
			continue
		}
		switch rec.Type {
		case TypeString, TypeI18NString:
			return taggedValue{str: cStringAt(h.Data, int(rec.Offset)), found: true}
		case TypeInt32:
			if int(rec.Offset)+4 <= len(h.Data) {
				v := int32(binary.BigEndian.Uint32(h.Data[rec.Offset:]))
				return taggedValue{i32: v, found: true}
			}
		}
	}
	return taggedValue{}
}

func cStringAt(data []byte, offset int) string {
	end := offset
	for end < len(data) && data[end] != 0 {
		end++
	}
	if offset > len(data) {
		return ""
	}
	return string(data[offset:end])
}

func (pkg *Package) populateFromMainHeader() error {
	m := pkg.Main
	pkg.Summary = m.lookup(TagSummary).str
	pkg.Description = m.lookup(TagDescription).str
	pkg.BuildTime = m.lookup(TagBuildTime).i32
	pkg.BuildHost = m.lookup(TagBuildHost).str
	pkg.Size = m.lookup(TagSize).i32
	pkg.Distribution = m.lookup(TagDistribution).str
	pkg.Vendor = m.lookup(TagVendor).str
	pkg.License = m.lookup(TagLicense).str
	pkg.OS = m.lookup(TagOs).str
	pkg.Arch = m.lookup(TagArch).str
	pkg.PayloadCompressor = m.lookup(TagPayloadCompressor).str
	if pkg.PayloadCompressor == "" {
		pkg.PayloadCompressor = "gzip"
	}
	return nil
}

func readLead(r io.Reader) (*Lead, error) {
	var l Lead
	if err := binary.Read(r, binary.BigEndian, &l); err != nil {
		return nil, pkgerr.Wrap(pkgerr.ShortRead, err, "rpm: truncated lead")
	}
	return &l, nil
}

// readHeader reads one Header structure (header record + index records +
// data store) and returns it plus the number of bytes consumed, so the
// caller can align to an 8-byte boundary afterward (signature header only).
func readHeader(r io.Reader) (*Header, int, error) {
	var rec struct {
		Magic            [3]byte
		VersionByte      byte
		Reserved         [4]byte
		IndexRecordCount uint32
		DataSize         uint32
	}
	if err := binary.Read(r, binary.BigEndian, &rec); err != nil {
		return nil, 0, pkgerr.Wrap(pkgerr.ShortRead, err, "rpm: truncated header record")
	}
	if rec.Magic != headerMagic {
		return nil, 0, pkgerr.New(pkgerr.BadMagic, "rpm: bad header magic %x", rec.Magic)
	}

	bytesRead := 16
	records := make([]IndexRecord, rec.IndexRecordCount)
	for i := range records {
		if err := binary.Read(r, binary.BigEndian, &records[i]); err != nil {
			return nil, 0, pkgerr.Wrap(pkgerr.ShortRead, err, "rpm: truncated index record %d", i)
		}
		bytesRead += 16
	}

	data := make([]byte, rec.DataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, 0, pkgerr.Wrap(pkgerr.ShortRead, err, "rpm: truncated header data")
	}
	bytesRead += int(rec.DataSize)

	return &Header{Records: records, Data: data}, bytesRead, nil
}

func skipToAlign8(r *bufio.Reader, bytesRead int) error {
	pad := (8 - bytesRead%8) % 8
	if pad == 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r, int64(pad))
	if err != nil {
		return pkgerr.Wrap(pkgerr.ShortRead, err, "rpm: truncated signature padding")
	}
	return nil
}

// StreamCpio copies the decompressed cpio payload to out, selecting the
// decompressor named by PayloadCompressor. Unknown compressors are treated
// as a hard BadHeader; a stream that stops before its decompressor
// reaches EOF fails with DecompressError.
func (pkg *Package) StreamCpio(out io.Writer) error {
	var src io.Reader
	switch pkg.PayloadCompressor {
	case "gzip", "":
		gz, err := gzip.NewReader(pkg.payloadReader)
		if err != nil {
			return pkgerr.Wrap(pkgerr.DecompressError, err, "rpm: bad gzip payload")
		}
		defer gz.Close()
		src = gz
	case "bzip2":
		src = bzip2.NewReader(pkg.payloadReader)
	case "xz":
		xr, err := xz.NewReader(pkg.payloadReader)
		if err != nil {
			return pkgerr.Wrap(pkgerr.DecompressError, err, "rpm: bad xz payload")
		}
		src = xr
	case "lzma":
		lr, err := lzma.NewReader(pkg.payloadReader)
		if err != nil {
			return pkgerr.Wrap(pkgerr.DecompressError, err, "rpm: bad lzma payload")
		}
		src = lr
	default:
		return pkgerr.New(pkgerr.BadHeader, "rpm: unrecognized PayloadCompressor %q", pkg.PayloadCompressor)
	}

	if _, err := io.Copy(out, src); err != nil {
		return pkgerr.Wrap(pkgerr.DecompressError, err, "rpm: truncated payload stream")
	}
	return nil
}
