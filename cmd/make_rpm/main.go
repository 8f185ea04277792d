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

// Command make_rpm drives the external rpmbuild tool: it collects the spec
// file, payload files, scriptlets, and version/release overrides, hands
// them to the rpmbuild package, and copies the produced RPM to --out_file.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ogier/pflag"

	"github.com/holocm/pkgforge/byteops"
	"github.com/holocm/pkgforge/internal/cliutil"
	"github.com/holocm/pkgforge/internal/pkgerr"
	"github.com/holocm/pkgforge/rpmbuild"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "make_rpm: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("make_rpm", pflag.ExitOnError)
	rpmbuildPath := fs.String("rpmbuild", "", "explicit rpmbuild path (default: search PATH)")
	specFile := fs.String("spec_file", "", "RPM spec file (required)")
	outFile := fs.String("out_file", "", "where to copy the built RPM (required)")
	version := fs.String("version", "", "Version: override; @file reads the value from a file")
	release := fs.String("release", "", "Release: override; @file reads the value from a file")
	architecture := fs.String("architecture", "", "RPM_ARCHITECTURE template value")
	sourceDateEpoch := fs.String("source_date_epoch", "", "SOURCE_DATE_EPOCH for reproducible builds; @file reads the value from a file")
	files := &cliutil.ListValue{}
	fs.Var(files, "file", "payload file copied into BUILD/, as dest=src or a plain path (repeatable)")

	scriptlets := map[string]*string{}
	for _, name := range []string{"pre_scriptlet", "post_scriptlet", "preun_scriptlet", "postun_scriptlet"} {
		scriptlets[name] = fs.String(name, "", name+" body; @file reads the value from a file")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *specFile == "" || *outFile == "" {
		return pkgerr.New(pkgerr.BadArgument, "--spec_file and --out_file are required")
	}

	spec, err := os.ReadFile(*specFile)
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot read --spec_file %s", *specFile)
	}

	opts := rpmbuild.Options{
		RpmbuildPath: *rpmbuildPath,
		SpecFile:     spec,
		Experimental: rpmbuild.ExperimentalOverlay{RPMArchitecture: *architecture},
	}
	for _, f := range []struct {
		dst *string
		raw *string
	}{
		{&opts.Version, version},
		{&opts.Release, release},
		{&opts.SourceDateEpoch, sourceDateEpoch},
		{&opts.Scriptlets.Pre, scriptlets["pre_scriptlet"]},
		{&opts.Scriptlets.Post, scriptlets["post_scriptlet"]},
		{&opts.Scriptlets.Preun, scriptlets["preun_scriptlet"]},
		{&opts.Scriptlets.Postun, scriptlets["postun_scriptlet"]},
	} {
		v, err := byteops.FlagOrFileValue(*f.raw, true)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	for _, item := range files.Items {
		relPath, srcPath := item, item
		if idx := strings.IndexByte(item, '='); idx >= 0 {
			relPath, srcPath = item[:idx], item[idx+1:]
		}
		content, err := os.ReadFile(srcPath)
		if err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot read --file %s", srcPath)
		}
		info, err := os.Stat(srcPath)
		if err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot stat --file %s", srcPath)
		}
		opts.Files = append(opts.Files, rpmbuild.PayloadFile{
			RelPath: relPath, Content: content, Mode: info.Mode().Perm(),
		})
	}

	result, err := rpmbuild.Build(opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outFile, result.Package, 0o644); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write %s", *outFile)
	}
	return nil
}
