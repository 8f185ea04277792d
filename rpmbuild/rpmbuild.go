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

// Package rpmbuild orchestrates the external `rpmbuild` tool: it lays out a
// working directory in the RPM SOURCES/BUILD/BUILDROOT/RPMS/TMP convention,
// rewrites the caller's spec file with version/release line substitutions
// and template variable substitutions, invokes rpmbuild, and locates the
// produced package by parsing its "Wrote: <path>" output line.
package rpmbuild

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/holocm/pkgforge/internal/pkgerr"
)

const (
	dirSources   = "SOURCES"
	dirBuild     = "BUILD"
	dirBuildroot = "BUILDROOT"
	dirRPMS      = "RPMS"
	dirTMP       = "TMP"
)

var wroteRe = regexp.MustCompile(`(?m)^Wrote:\s*(.+)$`)

// FindRpmbuild resolves the rpmbuild executable: explicit path if given
// (validated executable), else the first match on PATH.
func FindRpmbuild(explicitPath string) (string, error) {
	if explicitPath != "" {
		info, err := os.Stat(explicitPath)
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			return "", pkgerr.New(pkgerr.InvalidRpmbuild, "%s is not executable", explicitPath)
		}
		return explicitPath, nil
	}
	path, err := exec.LookPath("rpmbuild")
	if err != nil {
		return "", pkgerr.New(pkgerr.NoRpmbuildFound, "rpmbuild is required but is not present in PATH")
	}
	return path, nil
}

// PayloadFile is one file to copy into BUILD/ before invoking rpmbuild,
// preserving its relative path.
type PayloadFile struct {
	RelPath string
	Content []byte
	Mode    os.FileMode
}

// Scriptlets holds the four maintainer-script bodies substituted into the
// spec file's PRE_SCRIPTLET/POST_SCRIPTLET/PREUN_SCRIPTLET/POSTUN_SCRIPTLET
// template variables.
type Scriptlets struct {
	Pre    string
	Post   string
	Preun  string
	Postun string
}

// ExperimentalOverlay holds the additional `--define` file payloads
// (preamble/description/install/files) and the remaining template
// variables (VERSION_FROM_FILE, RELEASE_FROM_FILE, RPM_ARCHITECTURE) that
// some spec templates substitute beyond the four scriptlets.
type ExperimentalOverlay struct {
	PreambleFile       string
	PreambleContent    []byte
	DescriptionFile    string
	DescriptionContent []byte
	InstallScript      string
	InstallContent     []byte
	FileListFile       string
	FileListContent    []byte
	VersionFromFile    string
	ReleaseFromFile    string
	RPMArchitecture    string
}

// Options configures one Build invocation.
type Options struct {
	RpmbuildPath    string // explicit path, or "" to search PATH
	SpecFile        []byte
	Version         string // empty means "don't rewrite Version:"
	Release         string // empty means "don't rewrite Release:"
	Files           []PayloadFile
	Scriptlets      Scriptlets
	Experimental    ExperimentalOverlay
	SourceDateEpoch string // empty means unset
	Logger          *logrus.Logger
}

// Result is the outcome of a successful Build.
type Result struct {
	// OutputPath is the rpmbuild-reported path of the produced package,
	// inside the working directory that Build removes before returning;
	// Build reads the package into Package before that removal.
	OutputPath string
	Package    []byte
	Log        string
}

func (o Options) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

// Build lays out a temporary working directory, rewrites the spec file,
// invokes rpmbuild --bb, and returns the produced package's bytes.
//
// Failure modes: NoRpmbuildFound/InvalidRpmbuild if the tool can't be
// resolved; IoError for working-directory setup failures; SubprocessError
// if rpmbuild exits non-zero or never prints a "Wrote:" line (the captured
// combined stdout/stderr log is attached to the error).
func Build(opts Options) (*Result, error) {
	rpmbuildPath, err := FindRpmbuild(opts.RpmbuildPath)
	if err != nil {
		return nil, err
	}

	workdir, err := os.MkdirTemp("", "pkgforge-rpmbuild-")
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot create rpmbuild working directory")
	}
	defer os.RemoveAll(workdir)

	for _, name := range []string{dirSources, dirBuild, dirBuildroot, dirRPMS, dirTMP} {
		if err := os.MkdirAll(filepath.Join(workdir, name), 0o777); err != nil {
			return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot create %s", name)
		}
	}

	if err := copyPayload(workdir, opts.Files); err != nil {
		return nil, err
	}

	specName, err := writeSpecFile(workdir, opts)
	if err != nil {
		return nil, err
	}

	if err := writeExperimentalFiles(workdir, opts.Experimental); err != nil {
		return nil, err
	}

	returncode, log, err := runRpmbuild(rpmbuildPath, workdir, specName, opts)
	opts.logger().WithField("rpmbuild", rpmbuildPath).Debug("rpmbuild invocation complete")
	if err != nil {
		return nil, err
	}

	outputPath := findOutputFile(log)
	if returncode != 0 || outputPath == "" {
		opts.logger().WithField("log", log).Error("rpmbuild failed")
		return nil, pkgerr.New(pkgerr.SubprocessError, "rpmbuild exited %d without a usable output file:\n%s", returncode, log)
	}

	pkgBytes, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot read rpmbuild output %s", outputPath)
	}

	return &Result{OutputPath: outputPath, Package: pkgBytes, Log: log}, nil
}

func copyPayload(workdir string, files []PayloadFile) error {
	for _, f := range files {
		dst := filepath.Join(workdir, dirBuild, f.RelPath)
		if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot create directory for %s", f.RelPath)
		}
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		if err := os.WriteFile(dst, f.Content, mode); err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot write payload file %s", f.RelPath)
		}
	}
	return nil
}

// writeSpecFile applies the line-prefix substitutions (Version:/Release:)
// and the scriptlet template-variable substitutions, writing the result to
// workdir/package.spec and returning that file name.
func writeSpecFile(workdir string, opts Options) (string, error) {
	const specName = "package.spec"

	lines := strings.Split(string(opts.SpecFile), "\n")
	for i, line := range lines {
		switch {
		case opts.Version != "" && strings.HasPrefix(line, "Version:"):
			lines[i] = fmt.Sprintf("Version: %s", opts.Version)
		case opts.Release != "" && strings.HasPrefix(line, "Release:"):
			lines[i] = fmt.Sprintf("Release: %s", opts.Release)
		}
	}
	rewritten := strings.Join(lines, "\n")

	replacements := map[string]string{
		"PRE_SCRIPTLET":    "%pre\n" + opts.Scriptlets.Pre,
		"POST_SCRIPTLET":   "%post\n" + opts.Scriptlets.Post,
		"PREUN_SCRIPTLET":  "%preun\n" + opts.Scriptlets.Preun,
		"POSTUN_SCRIPTLET": "%postun\n" + opts.Scriptlets.Postun,
		"VERSION_FROM_FILE": opts.Experimental.VersionFromFile,
		"RELEASE_FROM_FILE": opts.Experimental.ReleaseFromFile,
		"RPM_ARCHITECTURE":  opts.Experimental.RPMArchitecture,
	}
	rewritten = substituteTemplate(rewritten, replacements)

	if err := os.WriteFile(filepath.Join(workdir, specName), []byte(rewritten), 0o644); err != nil {
		return "", pkgerr.Wrap(pkgerr.IoError, err, "cannot write spec file")
	}
	return specName, nil
}

// writeExperimentalFiles copies the preamble/description/install-script/
// file-list payloads into the working directory at the names their
// --define args in runRpmbuild reference.
func writeExperimentalFiles(workdir string, ov ExperimentalOverlay) error {
	type overlayFile struct {
		name    string
		content []byte
		dir     string
	}
	files := []overlayFile{
		{ov.PreambleFile, ov.PreambleContent, ""},
		{ov.DescriptionFile, ov.DescriptionContent, ""},
		{ov.InstallScript, ov.InstallContent, ""},
		{ov.FileListFile, ov.FileListContent, dirBuild},
	}
	for _, f := range files {
		if f.name == "" {
			continue
		}
		dst := filepath.Join(workdir, f.dir, f.name)
		if err := os.WriteFile(dst, f.content, 0o644); err != nil {
			return pkgerr.Wrap(pkgerr.IoError, err, "cannot write %s", f.name)
		}
	}
	return nil
}

// substituteTemplate performs Python string.Template-style "safe
// substitute" of $NAME/${NAME} placeholders, leaving unknown names intact.
func substituteTemplate(text string, vars map[string]string) string {
	re := regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)`)
	return re.ReplaceAllStringFunc(text, func(m string) string {
		sub := re.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

func runRpmbuild(rpmbuildPath, workdir, specName string, opts Options) (int, string, error) {
	buildroot := filepath.Join(workdir, dirBuildroot)
	args := []string{
		"--define", fmt.Sprintf("_topdir %s", workdir),
		"--define", fmt.Sprintf("_tmppath %s", filepath.Join(workdir, dirTMP)),
		"--bb",
		fmt.Sprintf("--buildroot=%s", buildroot),
	}
	if opts.SourceDateEpoch != "" {
		args = append(args,
			"--define", fmt.Sprintf("clamp_mtime_to_source_date_epoch %s", opts.SourceDateEpoch),
			"--define", "use_source_date_epoch_as_buildtime 1",
		)
	}
	if opts.Experimental.PreambleFile != "" {
		args = append(args, "--define", fmt.Sprintf("build_rpm_options %s", opts.Experimental.PreambleFile))
	}
	if opts.Experimental.DescriptionFile != "" {
		args = append(args, "--define", fmt.Sprintf("build_rpm_description %s", opts.Experimental.DescriptionFile))
	}
	if opts.Experimental.InstallScript != "" {
		args = append(args, "--define", fmt.Sprintf("build_rpm_install %s", opts.Experimental.InstallScript))
	}
	if opts.Experimental.FileListFile != "" {
		args = append(args, "--define", fmt.Sprintf("build_rpm_files %s", opts.Experimental.FileListFile))
	}
	args = append(args, specName)

	cmd := exec.Command(rpmbuildPath, args...)
	cmd.Dir = workdir
	env := []string{"LANG=C", fmt.Sprintf("RPM_BUILD_ROOT=%s", buildroot)}
	if opts.SourceDateEpoch != "" {
		env = append(env, fmt.Sprintf("SOURCE_DATE_EPOCH=%s", opts.SourceDateEpoch))
	}
	cmd.Env = append(os.Environ(), env...)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()
	returncode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			returncode = exitErr.ExitCode()
		} else {
			return 0, combined.String(), pkgerr.Wrap(pkgerr.SubprocessError, runErr, "cannot run rpmbuild")
		}
	}
	return returncode, combined.String(), nil
}

// findOutputFile extracts the path from rpmbuild's "Wrote: <path>" line, the
// last such line in the combined log (rpmbuild prints both source and
// binary RPM paths for some spec files; --bb only emits one).
func findOutputFile(log string) string {
	matches := wroteRe.FindAllStringSubmatch(log, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}
