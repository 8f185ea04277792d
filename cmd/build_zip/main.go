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

// Command build_zip builds a deterministic zip archive from a manifest.
// Same shape as build_tar, minus the owner and compression-selection
// surface (zip has neither concept: mode lives in ExternalAttrs, deflate
// is the only method used for file content).
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ogier/pflag"

	"github.com/holocm/pkgforge/internal/cliutil"
	"github.com/holocm/pkgforge/internal/pkgerr"
	"github.com/holocm/pkgforge/manifest"
	"github.com/holocm/pkgforge/pipeline"
	"github.com/holocm/pkgforge/tarwriter"
	"github.com/holocm/pkgforge/zipwriter"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "build_zip: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("build_zip", pflag.ExitOnError)
	output := fs.String("output", "", "output zip path (required)")
	manifestPath := fs.String("manifest", "", "manifest file path (required)")
	mode := fs.String("mode", "", "default octal mode for all entries")
	directory := fs.String("directory", "", "root prefix for every entry")
	mtime := fs.String("mtime", "", "mtime policy: integer epoch or \"portable\"")
	stampFrom := fs.String("stamp_from", "", "TOML file supplying source_date_epoch")
	modes := &cliutil.MapValue{}
	fs.Var(modes, "modes", "per-path octal mode override path=OCTAL (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		return pkgerr.New(pkgerr.BadArgument, "--output is required")
	}
	if *manifestPath == "" {
		return pkgerr.New(pkgerr.BadArgument, "--manifest is required")
	}

	var entries []manifest.Entry
	if *manifestPath != "" {
		var err error
		entries, err = manifest.ReadEntries(*manifestPath)
		if err != nil {
			return err
		}
	}

	zipMtime, err := resolveMtime(*mtime, *stampFrom)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		DefaultMode: *mode,
		Modes:       modes.M,
		RootPrefix:  *directory,
		ZipMtime:    zipMtime,
	}

	out, err := os.Create(*output)
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot create %s", *output)
	}
	w := zipwriter.New(out, *directory)

	if err := pipeline.BuildZip(w, entries, opts); err != nil {
		w.Close()
		os.Remove(*output)
		return err
	}
	if err := w.Close(); err != nil {
		os.Remove(*output)
		return err
	}
	return nil
}

// resolveMtime maps the --mtime/--stamp_from policy onto a concrete UTC
// time; the zero time lets zipwriter clamp to its own 1980 epoch.
func resolveMtime(mtimeFlag, stampFrom string) (time.Time, error) {
	if stampFrom != "" {
		epoch, err := pipeline.LoadStampFrom(stampFrom)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(epoch, 0).UTC(), nil
	}
	switch mtimeFlag {
	case "":
		return time.Time{}, nil
	case "portable":
		return time.Unix(tarwriter.PortableMtime, 0).UTC(), nil
	default:
		v, err := strconv.ParseInt(mtimeFlag, 10, 64)
		if err != nil {
			return time.Time{}, pkgerr.Wrap(pkgerr.BadArgument, err, "invalid --mtime %q", mtimeFlag)
		}
		return time.Unix(v, 0).UTC(), nil
	}
}
