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

// Package cliutil holds the pflag.Value implementations shared by the
// cmd/* binaries: repeatable "path=value" map flags (--modes, --owners)
// and plain repeatable string flags (--tar, --empty_root_dir).
package cliutil

import (
	"fmt"
	"strings"
)

// MapValue accumulates repeated "path=value" flags into a map.
type MapValue struct{ M map[string]string }

func (v *MapValue) String() string {
	if v.M == nil {
		return ""
	}
	return fmt.Sprintf("%v", v.M)
}

func (v *MapValue) Set(s string) error {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return fmt.Errorf("expected path=value, got %q", s)
	}
	if v.M == nil {
		v.M = make(map[string]string)
	}
	v.M[s[:idx]] = s[idx+1:]
	return nil
}

func (v *MapValue) Type() string { return "path=value" }

// ListValue accumulates a repeatable string flag.
type ListValue struct{ Items []string }

func (v *ListValue) String() string { return fmt.Sprintf("%v", v.Items) }
func (v *ListValue) Set(s string) error {
	v.Items = append(v.Items, s)
	return nil
}
func (v *ListValue) Type() string { return "string" }
