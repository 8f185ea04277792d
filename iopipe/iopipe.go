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

// Package iopipe implements a byte stream shared between exactly one
// producer goroutine and one consumer goroutine. Unlike io.Pipe, Write never
// blocks on a matching Read: bytes are buffered internally and the reader
// blocks only until enough bytes are available or the pipe is closed.
//
// This is the coupling primitive treereader uses to run a decompressor on
// one goroutine while a tar/cpio reader drains it on another.
package iopipe

import (
	"io"
	"sync"

	"github.com/holocm/pkgforge/internal/pkgerr"
)

// Pipe is a thread-safe, unbounded byte pipe. The zero value is not usable;
// construct with New.
type Pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
	read   int64 // total bytes consumed, for Tell
}

// New creates a ready-to-use Pipe.
func New() *Pipe {
	p := &Pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write appends bytes to the pipe and wakes any blocked reader. It fails
// with PipeClosed if the pipe has already been closed.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, pkgerr.New(pkgerr.PipeClosed, "write after close")
	}
	p.buf = append(p.buf, b...)
	p.cond.Broadcast()
	return len(b), nil
}

// Read blocks until n bytes are available or the pipe is closed. If the
// pipe is closed and fewer than n bytes remain, it returns whatever is left
// (possibly zero bytes, with a nil error; callers use the returned slice
// length to detect EOF, not an error).
func (p *Pipe) Read(n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) < n && !p.closed {
		p.cond.Wait()
	}
	take := n
	if take > len(p.buf) {
		take = len(p.buf)
	}
	out := make([]byte, take)
	copy(out, p.buf[:take])
	p.buf = p.buf[take:]
	p.read += int64(take)
	return out, nil
}

// ReadAll blocks until the pipe is closed, then returns everything written
// to it that hasn't been read yet.
func (p *Pipe) ReadAll() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed {
		p.cond.Wait()
	}
	out := p.buf
	p.buf = nil
	p.read += int64(len(out))
	return out
}

// Close marks the pipe as closed and wakes any blocked reader. Close is
// idempotent: closing an already-closed pipe is a no-op.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.cond.Broadcast()
	}
	return nil
}

// Tell returns the total number of bytes consumed via Read/ReadAll so far.
func (p *Pipe) Tell() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read
}

// AsIoReader adapts the pipe to the standard io.Reader interface, for
// callers (treereader's Rpm/Deb adapters) that hand the consumer side to a
// cpio/tar reader expecting io.Reader. It never returns fewer bytes than
// requested except at EOF, matching io.Reader's "may return io.EOF with the
// last valid bytes or on the following call" contract via io.ReadFull
// semantics: here we return io.EOF only once the pipe is closed and empty.
func (p *Pipe) AsIoReader() io.Reader {
	return &ioReaderAdapter{p: p}
}

type ioReaderAdapter struct{ p *Pipe }

func (a *ioReaderAdapter) Read(b []byte) (int, error) {
	chunk, err := a.p.Read(len(b))
	if err != nil {
		return 0, err
	}
	n := copy(b, chunk)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
