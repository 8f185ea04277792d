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

// Command build_tar builds a deterministic tar archive from a manifest.
// The CLI surface is wide enough (mode/owner remap maps, compressor
// choice, tar/deb embedding) that pflag carries the parsing.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ogier/pflag"

	"github.com/holocm/pkgforge/internal/cliutil"
	"github.com/holocm/pkgforge/internal/pkgerr"
	"github.com/holocm/pkgforge/manifest"
	"github.com/holocm/pkgforge/pipeline"
	"github.com/holocm/pkgforge/tarwriter"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "build_tar: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("build_tar", pflag.ExitOnError)
	output := fs.String("output", "", "output tar path (required)")
	manifestPath := fs.String("manifest", "", "manifest file path (required)")
	mode := fs.String("mode", "", "default octal mode for all entries")
	owner := fs.String("owner", "0.0", "default uid.gid")
	ownerName := fs.String("owner_name", "", "default uname.gname")
	directory := fs.String("directory", "", "root prefix for every entry")
	mtime := fs.String("mtime", "", "mtime policy: integer epoch or \"portable\"")
	stampFrom := fs.String("stamp_from", "", "TOML file supplying source_date_epoch")
	compression := fs.String("compression", "", "built-in compressor: gz, bz2, xz, lzma")
	compressor := fs.String("compressor", "", "external compressor shell command")
	emptyRootDir := &cliutil.ListValue{}
	fs.Var(emptyRootDir, "empty_root_dir", "add an empty directory entry (repeatable)")
	mergeTar := &cliutil.ListValue{}
	fs.Var(mergeTar, "tar", "merge another tar's entries (repeatable)")
	embedDeb := &cliutil.ListValue{}
	fs.Var(embedDeb, "deb", "embed a prebuilt .deb file by its basename (repeatable)")
	modes := &cliutil.MapValue{}
	fs.Var(modes, "modes", "per-path octal mode override path=OCTAL (repeatable)")
	owners := &cliutil.MapValue{}
	fs.Var(owners, "owners", "per-path owner override path=uid.gid (repeatable)")
	ownerNames := &cliutil.MapValue{}
	fs.Var(ownerNames, "owner_names", "per-path owner-name override path=uname.gname (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		return pkgerr.New(pkgerr.BadArgument, "--output is required")
	}
	if *manifestPath == "" {
		return pkgerr.New(pkgerr.BadArgument, "--manifest is required")
	}

	entries, err := loadEntries(*manifestPath)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		DefaultMode:      *mode,
		DefaultOwner:     *owner,
		DefaultOwnerName: *ownerName,
		Modes:            modes.M,
		Owners:           owners.M,
		OwnerNames:       ownerNames.M,
		RootPrefix:       *directory,
	}

	resolvedMtime, err := resolveMtime(*mtime, *stampFrom)
	if err != nil {
		return err
	}

	out, err := os.Create(*output)
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot create %s", *output)
	}

	w, err := tarwriter.New(out, tarwriter.Options{
		Mtime:       resolvedMtime,
		RootPrefix:  *directory,
		Compression: tarwriter.Compression(*compression),
		Compressor:  *compressor,
	})
	if err != nil {
		out.Close()
		os.Remove(*output)
		return err
	}

	if err := buildArchive(w, entries, opts, emptyRootDir.Items, mergeTar.Items, embedDeb.Items); err != nil {
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

func loadEntries(manifestPath string) ([]manifest.Entry, error) {
	if manifestPath == "" {
		return nil, nil
	}
	return manifest.ReadEntries(manifestPath)
}

func resolveMtime(mtimeFlag, stampFrom string) (int64, error) {
	if stampFrom != "" {
		return pipeline.LoadStampFrom(stampFrom)
	}
	switch mtimeFlag {
	case "":
		return 0, nil
	case "portable":
		return tarwriter.PortableMtime, nil
	default:
		v, err := strconv.ParseInt(mtimeFlag, 10, 64)
		if err != nil {
			return 0, pkgerr.Wrap(pkgerr.BadArgument, err, "invalid --mtime %q", mtimeFlag)
		}
		return v, nil
	}
}

func buildArchive(w *tarwriter.Writer, entries []manifest.Entry, opts pipeline.Options, emptyRootDirs, mergeTars, embedDebs []string) error {
	for _, dir := range emptyRootDirs {
		if err := w.AddFile(tarwriter.FileEntry{Name: dir, Kind: tarwriter.KindDirectory}); err != nil {
			return err
		}
	}
	if err := pipeline.BuildTar(w, entries, opts); err != nil {
		return err
	}
	for _, tarPath := range mergeTars {
		f, err := os.Open(tarPath)
		if err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot open --tar %s", tarPath)
		}
		err = w.AddTar(f, tarwriter.AddTarOptions{})
		f.Close()
		if err != nil {
			return err
		}
	}
	for _, debPath := range embedDebs {
		content, err := os.ReadFile(debPath)
		if err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot read --deb %s", debPath)
		}
		if err := w.AddFile(tarwriter.FileEntry{
			Name: filepath.Base(debPath), Kind: tarwriter.KindRegular, Content: content,
		}); err != nil {
			return err
		}
	}
	return nil
}
