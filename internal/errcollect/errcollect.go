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

// Package errcollect aggregates multiple errors for collective display, so
// that manifest validation can report everything wrong at once instead of
// stopping at the first problem.
package errcollect

import (
	"errors"
	"fmt"
)

// Collector is a wrapper around []error that simplifies code where multiple
// errors can happen and need to be aggregated for collective display.
type Collector struct {
	Errors []error
}

// Add adds an error to this collector. If nil is given, nothing happens, so
// you can safely write
//
//	ec.Add(OperationThatMightFail())
//
// instead of
//
//	if err := OperationThatMightFail(); err != nil {
//	    ec.Add(err)
//	}
func (c *Collector) Add(err error) {
	if err != nil {
		c.Errors = append(c.Errors, err)
	}
}

// Addf adds an error to this collector by passing the arguments into
// fmt.Errorf(). If only one argument is given, it is used as the error
// string verbatim.
func (c *Collector) Addf(format string, args ...interface{}) {
	if len(args) > 0 {
		c.Errors = append(c.Errors, fmt.Errorf(format, args...))
	} else {
		c.Errors = append(c.Errors, errors.New(format))
	}
}

// HasErrors reports whether any error was collected.
func (c *Collector) HasErrors() bool {
	return len(c.Errors) > 0
}

// Err joins all collected errors into one, or returns nil if none were
// collected.
func (c *Collector) Err() error {
	if len(c.Errors) == 0 {
		return nil
	}
	return errors.Join(c.Errors...)
}
