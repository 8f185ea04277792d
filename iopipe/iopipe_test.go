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

package iopipe

import (
	"bytes"
	"sync"
	"testing"
)

func TestReadWriteFIFO(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Write([]byte("hello "))
		p.Write([]byte("world"))
		p.Close()
	}()

	got := p.ReadAll()
	wg.Wait()
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q", got)
	}
	if p.Tell() != int64(len("hello world")) {
		t.Fatalf("tell = %d", p.Tell())
	}
}

func TestReadBlocksUntilEnoughBytesOrClose(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Write([]byte("ab"))
		p.Write([]byte("cde"))
		p.Close()
	}()

	chunk1, _ := p.Read(2)
	if string(chunk1) != "ab" {
		t.Fatalf("got %q", chunk1)
	}
	// ask for more than remains after close: should get what's left, no error
	chunk2, err := p.Read(100)
	wg.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(chunk2) != "cde" {
		t.Fatalf("got %q", chunk2)
	}

	chunk3, err := p.Read(1)
	if err != nil || len(chunk3) != 0 {
		t.Fatalf("got (%q, %v)", chunk3, err)
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	p := New()
	p.Close()
	if _, err := p.Write([]byte("x")); err == nil {
		t.Fatal("expected error writing after close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := New()
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}
