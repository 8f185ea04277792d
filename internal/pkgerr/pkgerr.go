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

// Package pkgerr defines the typed error categories shared by every reader
// and writer in this module, so that callers can tell a malformed archive
// from a missing file from a closed writer using errors.Is/errors.As instead
// of string matching.
package pkgerr

import "fmt"

// Category is one of the error kinds the core distinguishes.
type Category string

const (
	BadArgument     Category = "bad_argument"
	ManifestParse   Category = "manifest_parse"
	IoError         Category = "io_error"
	BadMagic        Category = "bad_magic"
	BadHeader       Category = "bad_header"
	DuplicateEntry  Category = "duplicate_entry"
	WriterClosed    Category = "writer_closed"
	PipeClosed      Category = "pipe_closed"
	CompressorError Category = "compressor_error"
	DecompressError Category = "decompress_error"
	SubprocessError Category = "subprocess_error"
	NoRpmbuildFound Category = "no_rpmbuild_found"
	InvalidRpmbuild Category = "invalid_rpmbuild"
	ShortRead       Category = "short_read"
)

// Error wraps an underlying cause (if any) with one of the Category values
// above, so callers can do `errors.As(err, &pkgerr.Error{})` and switch on
// Category.
type Error struct {
	Cat     Category
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Cat, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Cat, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Category. This lets
// callers write errors.Is(err, pkgerr.New(pkgerr.BadMagic, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Cat == e.Cat
}

// New creates an *Error with no wrapped cause.
func New(cat Category, format string, args ...interface{}) *Error {
	return &Error{Cat: cat, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error that wraps an existing error.
func Wrap(cat Category, cause error, format string, args ...interface{}) *Error {
	return &Error{Cat: cat, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// sentinel values usable with errors.Is(err, pkgerr.ErrBadMagic) etc.
var (
	ErrBadMagic     = &Error{Cat: BadMagic}
	ErrBadHeader    = &Error{Cat: BadHeader}
	ErrShortRead    = &Error{Cat: ShortRead}
	ErrWriterClosed = &Error{Cat: WriterClosed}
	ErrPipeClosed   = &Error{Cat: PipeClosed}
)
