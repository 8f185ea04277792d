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

// Package arfmt implements the System V AR archive format used as the
// outer container of Debian packages: the `!<arch>\n` magic followed by
// 60-byte member headers (16-byte name, 12-byte decimal timestamp, 6-byte
// owner, 6-byte group, 8-byte octal mode, 10-byte decimal size, 2-byte
// terminator), each member's content padded to a 2-byte boundary with a
// single trailing '\n' when its length is odd.
//
// Both directions wrap github.com/blakesmith/ar so that writes and reads
// share one implementation of the header math.
package arfmt

import (
	"bufio"
	"io"
	"time"

	"github.com/blakesmith/ar"

	"github.com/holocm/pkgforge/internal/pkgerr"
)

// Entry is one member of an AR archive.
type Entry struct {
	Name    string
	ModTime time.Time
	UID     int
	GID     int
	Mode    int64
	Data    []byte
}

// Writer writes a System V AR archive. The zero value is not usable;
// construct with NewWriter.
type Writer struct {
	w      *ar.Writer
	closed bool
}

// NewWriter creates a Writer that emits the archive to out. The global
// "!<arch>\n" magic is written immediately.
func NewWriter(out io.Writer) (*Writer, error) {
	w := ar.NewWriter(out)
	if err := w.WriteGlobalHeader(); err != nil {
		return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot write ar magic")
	}
	return &Writer{w: w}, nil
}

// AddEntry appends one member to the archive.
func (w *Writer) AddEntry(e Entry) error {
	if w.closed {
		return pkgerr.ErrWriterClosed
	}
	modTime := e.ModTime
	if modTime.IsZero() {
		modTime = time.Unix(0, 0)
	}
	hdr := &ar.Header{
		Name:    e.Name,
		ModTime: modTime,
		Uid:     e.UID,
		Gid:     e.GID,
		Mode:    e.Mode,
		Size:    int64(len(e.Data)),
	}
	if err := w.w.WriteHeader(hdr); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write ar header for %s", e.Name)
	}
	if _, err := w.w.Write(e.Data); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write ar content for %s", e.Name)
	}
	return nil
}

// Close marks the writer as closed. A System V AR archive has no trailer,
// so this only prevents further use of the Writer.
func (w *Writer) Close() error {
	w.closed = true
	return nil
}

// ReadAll parses an entire AR archive from r and returns its members in
// order. It fails with BadMagic if the "!<arch>\n" magic is missing,
// BadHeader if a member header is malformed, and ShortRead if a member's
// declared size runs past the end of the stream.
func ReadAll(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(8); err != nil || string(magic) != "!<arch>\n" {
		return nil, pkgerr.New(pkgerr.BadMagic, "missing ar magic")
	}
	rd := ar.NewReader(br)
	var entries []Entry
	for {
		hdr, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.BadHeader, err, "malformed ar header")
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.ShortRead, err, "truncated ar member %s", hdr.Name)
		}
		entries = append(entries, Entry{
			Name:    hdr.Name,
			ModTime: hdr.ModTime,
			UID:     hdr.Uid,
			GID:     hdr.Gid,
			Mode:    hdr.Mode,
			Data:    data,
		})
	}
	return entries, nil
}
