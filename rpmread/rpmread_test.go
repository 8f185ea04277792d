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

package rpmread

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"testing"
)

// buildHeaderBytes assembles a minimal Header structure (no region tag
// games, since the reader doesn't require one) with the given records.
func buildHeaderBytes(t *testing.T, entries []IndexRecord, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write([]byte{0x8e, 0xad, 0xe8, 0x01}) // magic + version byte
	buf.Write([]byte{0, 0, 0, 0})             // reserved
	binary.Write(&buf, binary.BigEndian, uint32(len(entries)))
	binary.Write(&buf, binary.BigEndian, uint32(len(data)))
	for _, e := range entries {
		binary.Write(&buf, binary.BigEndian, e)
	}
	buf.Write(data)
	return buf.Bytes()
}

func buildLeadBytes() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xed, 0xab, 0xee, 0xdb}) // magic
	buf.Write([]byte{3, 0})                   // version
	binary.Write(&buf, binary.BigEndian, uint16(0))  // type
	binary.Write(&buf, binary.BigEndian, uint16(1))  // architecture
	nvr := make([]byte, 66)
	copy(nvr, "example-1.0-1")
	buf.Write(nvr)
	binary.Write(&buf, binary.BigEndian, uint16(1)) // os
	binary.Write(&buf, binary.BigEndian, uint16(5)) // signature_type
	buf.Write(make([]byte, 16))                     // reserved
	return buf.Bytes()
}

func strField(data *[]byte, s string) uint32 {
	offset := uint32(len(*data))
	*data = append(append(*data, []byte(s)...), 0)
	return offset
}

func TestReadParsesLeadAndMainHeaderFields(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildLeadBytes())

	// empty signature header, already 8-byte aligned at 16 bytes.
	sigHeader := buildHeaderBytes(t, nil, nil)
	buf.Write(sigHeader)
	// sigHeader is exactly 16 bytes (no records, no data) -> already aligned.

	var mainData []byte
	summaryOff := strField(&mainData, "an example package")
	archOff := strField(&mainData, "x86_64")
	compressorOff := strField(&mainData, "xz")

	records := []IndexRecord{
		{Tag: TagSummary, Type: TypeString, Offset: summaryOff, Count: 1},
		{Tag: TagArch, Type: TypeString, Offset: archOff, Count: 1},
		{Tag: TagPayloadCompressor, Type: TypeString, Offset: compressorOff, Count: 1},
	}
	buf.Write(buildHeaderBytes(t, records, mainData))

	pkg, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if pkg.Lead.Name() != "example-1.0-1" {
		t.Errorf("lead name = %q", pkg.Lead.Name())
	}
	if pkg.Summary != "an example package" {
		t.Errorf("Summary = %q", pkg.Summary)
	}
	if pkg.Arch != "x86_64" {
		t.Errorf("Arch = %q", pkg.Arch)
	}
	if pkg.PayloadCompressor != "xz" {
		t.Errorf("PayloadCompressor = %q", pkg.PayloadCompressor)
	}
}

func TestReadRejectsBadLeadMagic(t *testing.T) {
	bad := buildLeadBytes()
	bad[0] = 0x00
	_, err := Read(bytes.NewReader(bad))
	if err == nil {
		t.Fatal("expected error for bad lead magic")
	}
}

func TestStreamCpioDefaultsToGzip(t *testing.T) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	gz.Write([]byte("cpio-payload-bytes"))
	gz.Close()

	pkg := &Package{PayloadCompressor: "", payloadReader: bytes.NewReader(compressed.Bytes())}
	var out bytes.Buffer
	if err := pkg.StreamCpio(&out); err != nil {
		t.Fatalf("StreamCpio: %s", err)
	}
	if out.String() != "cpio-payload-bytes" {
		t.Fatalf("got %q", out.String())
	}
}

func TestStreamCpioRejectsUnknownCompressor(t *testing.T) {
	pkg := &Package{PayloadCompressor: "zstd", payloadReader: bytes.NewReader(nil)}
	var out bytes.Buffer
	if err := pkg.StreamCpio(&out); err == nil {
		t.Fatal("expected error for unrecognized compressor")
	}
}
