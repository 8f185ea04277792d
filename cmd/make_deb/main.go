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

// Command make_deb assembles a Debian binary package from a prebuilt
// data.tar.* payload plus control metadata, and writes the .changes
// sidecar next to it. Flag values for version/description/built_using
// accept the @file indirection (the value is read from the named file).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ogier/pflag"

	"github.com/holocm/pkgforge/byteops"
	"github.com/holocm/pkgforge/debbuild"
	"github.com/holocm/pkgforge/internal/cliutil"
	"github.com/holocm/pkgforge/internal/pkgerr"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "make_deb: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("make_deb", pflag.ExitOnError)
	output := fs.String("output", "", "output .deb path (required)")
	changesOut := fs.String("changes", "", "output .changes path (default: next to the .deb)")
	dataPath := fs.String("data", "", "prebuilt data.tar[.gz|.bz2|.xz|.lzma] payload (required)")

	pkg := fs.String("package", "", "Package field (required)")
	version := fs.String("version", "", "Version field; @file reads the value from a file")
	architecture := fs.String("architecture", "", "Architecture field (default all)")
	maintainer := fs.String("maintainer", "", "Maintainer field (required)")
	description := fs.String("description", "", "Description field; @file reads the value from a file")
	section := fs.String("section", "", "Section field")
	priority := fs.String("priority", "", "Priority field")
	homepage := fs.String("homepage", "", "Homepage field")
	builtUsing := fs.String("built_using", "", "Built-Using field; @file reads the value from a file")
	installedSize := fs.String("installed_size", "", "Installed-Size field")
	distribution := fs.String("distribution", "", "Distribution field (default unstable)")
	urgency := fs.String("urgency", "", "Urgency field (default medium)")

	relations := map[string]*cliutil.ListValue{}
	for flag, field := range map[string]string{
		"depends": "Depends", "recommends": "Recommends", "replaces": "Replaces",
		"suggests": "Suggests", "enhances": "Enhances", "conflicts": "Conflicts",
		"breaks": "Breaks", "predepends": "Pre-Depends",
	} {
		lv := &cliutil.ListValue{}
		fs.Var(lv, flag, field+" entry (repeatable)")
		relations[field] = lv
	}

	scriptPaths := map[string]*string{}
	for _, name := range []string{"preinst", "postinst", "prerm", "postrm", "config", "templates"} {
		scriptPaths[name] = fs.String(name, "", name+" script file")
	}
	conffiles := &cliutil.ListValue{}
	fs.Var(conffiles, "conffile", "conffiles entry (repeatable)")
	mtime := fs.Int64("mtime", 0, "deb member mtime for reproducible builds")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" || *dataPath == "" {
		return pkgerr.New(pkgerr.BadArgument, "--output and --data are required")
	}

	values := map[string]string{
		"Package":        *pkg,
		"Architecture":   *architecture,
		"Maintainer":     *maintainer,
		"Section":        *section,
		"Priority":       *priority,
		"Homepage":       *homepage,
		"Installed-Size": *installedSize,
		"Distribution":   *distribution,
		"Urgency":        *urgency,
	}
	for _, f := range []struct {
		field string
		raw   *string
	}{{"Version", version}, {"Description", description}, {"Built-Using", builtUsing}} {
		v, err := byteops.FlagOrFileValue(*f.raw, true)
		if err != nil {
			return err
		}
		values[f.field] = v
	}
	for field, lv := range relations {
		if len(lv.Items) > 0 {
			values[field] = debbuild.JoinList(lv.Items)
		}
	}

	data, err := os.ReadFile(*dataPath)
	if err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot read --data %s", *dataPath)
	}

	var scripts []debbuild.ScriptFile
	for _, name := range []string{"preinst", "postinst", "prerm", "postrm", "config", "templates"} {
		path := *scriptPaths[name]
		if path == "" {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot read --%s %s", name, path)
		}
		scripts = append(scripts, debbuild.ScriptFile{Name: name, Data: content})
	}

	deb, err := debbuild.BuildDeb(debbuild.BuildOptions{
		Control:   debbuild.ControlFile{Values: values, Wrap: map[string]bool{"Description": true}},
		Scripts:   scripts,
		Conffiles: conffiles.Items,
		Data:      debbuild.DataFile{Name: filepath.Base(*dataPath), Data: data},
		Mtime:     *mtime,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(*output, deb, 0o644); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write %s", *output)
	}

	changesPath := *changesOut
	if changesPath == "" {
		base := *output
		if ext := filepath.Ext(base); ext == ".deb" {
			base = base[:len(base)-len(ext)]
		}
		changesPath = base + ".changes"
	}
	changes := debbuild.BuildChanges(debbuild.ChangesFields{
		Source:       values["Package"],
		Binary:       values["Package"],
		Architecture: orDefault(values["Architecture"], "all"),
		Version:      values["Version"],
		Distribution: orDefault(values["Distribution"], "unstable"),
		Urgency:      orDefault(values["Urgency"], "medium"),
		Maintainer:   values["Maintainer"],
		Description:  values["Description"],
		Changes:      values["Package"] + " (" + values["Version"] + ") " + orDefault(values["Distribution"], "unstable") + "; urgency=" + orDefault(values["Urgency"], "medium"),
		Date:         changesDate(*mtime),
	}, filepath.Base(*output), deb)
	if err := os.WriteFile(changesPath, []byte(changes), 0o644); err != nil {
		return pkgerr.Wrap(pkgerr.IoError, err, "cannot write %s", changesPath)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// changesDate honors SOURCE_DATE_EPOCH (and the --mtime fallback) so the
// .changes Date line is reproducible.
func changesDate(mtime int64) time.Time {
	if s := os.Getenv("SOURCE_DATE_EPOCH"); s != "" {
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(epoch, 0).UTC()
		}
	}
	if mtime != 0 {
		return time.Unix(mtime, 0).UTC()
	}
	return time.Now().UTC()
}
