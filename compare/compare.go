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

// Package compare diffs an expected file tree against a built one,
// classifying every discrepancy and rendering a structured report. Diffs
// are never surfaced as errors: they are aggregated first and rendered
// together, so one run reports everything that changed.
package compare

import (
	"fmt"
	"math"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/holocm/pkgforge/fileinfo"
	"github.com/holocm/pkgforge/internal/pkgerr"
	"github.com/holocm/pkgforge/treereader"
)

// Kind classifies one difference between the expected and got trees.
type Kind string

const (
	OnlyInGot            Kind = "only_in_got"
	OnlyInExpected       Kind = "only_in_expected"
	SymlinkTargetChanged Kind = "symlink_target_changed"
	MetadataChanged      Kind = "metadata_changed"
	SizeChanged          Kind = "size_changed"
)

// Difference is one classified discrepancy.
type Difference struct {
	Path     string
	Kind     Kind
	Detail   string
	Expected *fileinfo.FileInfo
	Got      *fileinfo.FileInfo
}

// Options configures Compare's filtering and size-regression thresholds.
type Options struct {
	// Include, if set, restricts comparison to paths it matches.
	Include *regexp.Regexp
	// Exclude, if set, skips paths it matches (applied after Include).
	Exclude *regexp.Regexp
	// CompareOwner additionally classifies uid/gid differences as
	// metadata_changed; off by default (many archive formats don't
	// preserve ownership meaningfully across rebuilds).
	CompareOwner bool

	MinimumCompareSize         int64
	ShowDecreases              bool
	MaxAllowedAbsoluteIncrease int64
	MaxAllowedPercentIncrease  float64
}

// Result is Compare's structured outcome.
type Result struct {
	Differences   []Difference
	GotCount      int
	ExpectedCount int
}

// HasDifferences reports whether any difference was classified.
func (r *Result) HasDifferences() bool {
	return len(r.Differences) > 0
}

func passesFilter(path string, opts Options) bool {
	if opts.Include != nil && !opts.Include.MatchString(path) {
		return false
	}
	if opts.Exclude != nil && opts.Exclude.MatchString(path) {
		return false
	}
	return true
}

// Compare loads expected fully into memory, then streams got, classifying
// every entry. Entries filtered out by Include/Exclude are skipped on both
// sides and not counted.
func Compare(expected, got treereader.Reader, opts Options) (*Result, error) {
	expectedEntries, err := treereader.ReadAll(expected)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot read expected tree")
	}

	byPath := make(map[string]*fileinfo.FileInfo, len(expectedEntries))
	expectedCount := 0
	for _, fi := range expectedEntries {
		if !passesFilter(fi.Path, opts) {
			continue
		}
		byPath[fi.Path] = fi
		expectedCount++
	}

	result := &Result{ExpectedCount: expectedCount}

	for {
		gotFi, err := got.Next()
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.IoError, err, "cannot read got tree")
		}
		if gotFi == nil {
			break
		}
		if !passesFilter(gotFi.Path, opts) {
			continue
		}
		result.GotCount++

		expFi, ok := byPath[gotFi.Path]
		if !ok {
			result.Differences = append(result.Differences, Difference{
				Path: gotFi.Path, Kind: OnlyInGot, Got: gotFi,
				Detail: "present in got, absent from expected",
			})
			continue
		}
		delete(byPath, gotFi.Path)

		if diff := classify(expFi, gotFi, opts); diff != nil {
			result.Differences = append(result.Differences, *diff)
		}
	}

	for path, expFi := range byPath {
		result.Differences = append(result.Differences, Difference{
			Path: path, Kind: OnlyInExpected, Expected: expFi,
			Detail: "present in expected, absent from got",
		})
	}

	return result, nil
}

// classify returns at most one Difference for a path present on both
// sides: a symlink target change takes precedence over a metadata change
// (only the first one that applies is reported), and size is only
// evaluated when neither fired, since a changed-type entry's size
// comparison is meaningless.
func classify(expected, got *fileinfo.FileInfo, opts Options) *Difference {
	if expected.IsSymlink || got.IsSymlink {
		if expected.SymlinkTarget != got.SymlinkTarget {
			return &Difference{
				Path: got.Path, Kind: SymlinkTargetChanged, Expected: expected, Got: got,
				Detail: fmt.Sprintf("%q -> %q", expected.SymlinkTarget, got.SymlinkTarget),
			}
		}
	}

	if expected.Perm() != got.Perm() || (expected.Mode&fileinfo.TypeMask) != (got.Mode&fileinfo.TypeMask) {
		return &Difference{
			Path: got.Path, Kind: MetadataChanged, Expected: expected, Got: got,
			Detail: fmt.Sprintf("mode %#o -> %#o", expected.Mode, got.Mode),
		}
	}
	if opts.CompareOwner && (expected.UID != got.UID || expected.GID != got.GID) {
		return &Difference{
			Path: got.Path, Kind: MetadataChanged, Expected: expected, Got: got,
			Detail: fmt.Sprintf("owner %d.%d -> %d.%d", expected.UID, expected.GID, got.UID, got.GID),
		}
	}

	if expected.IsDir || got.IsDir || expected.IsSymlink || got.IsSymlink {
		return nil
	}
	if sizeDiff := classifySize(expected.Size, got.Size, opts); sizeDiff != "" {
		return &Difference{
			Path: got.Path, Kind: SizeChanged, Expected: expected, Got: got, Detail: sizeDiff,
		}
	}
	return nil
}

// classifySize applies the size-regression thresholds, returning a
// non-empty detail string iff the size change is classified as a
// difference.
func classifySize(expectedSize, gotSize int64, opts Options) string {
	if expectedSize < opts.MinimumCompareSize && gotSize < opts.MinimumCompareSize {
		return ""
	}
	delta := gotSize - expectedSize
	if delta == 0 {
		return ""
	}
	if delta < 0 {
		if !opts.ShowDecreases {
			return ""
		}
		return fmt.Sprintf("%d -> %d (decreased)", expectedSize, gotSize)
	}
	if opts.MaxAllowedAbsoluteIncrease > 0 && delta > opts.MaxAllowedAbsoluteIncrease {
		return fmt.Sprintf("%d -> %d (+%d, exceeds absolute threshold %d)", expectedSize, gotSize, delta, opts.MaxAllowedAbsoluteIncrease)
	}
	if expectedSize > 0 && opts.MaxAllowedPercentIncrease > 0 {
		pct := float64(delta) / float64(expectedSize) * 100
		// compare on the banker's-rounded percentage, so a 0.9% growth
		// against a 1% budget already counts as spent (and exactly-half
		// cases round to the even side, so 0.5% passes it)
		if math.RoundToEven(pct) >= opts.MaxAllowedPercentIncrease {
			return fmt.Sprintf("%d -> %d (+%.1f%%, exceeds %.1f%%)", expectedSize, gotSize, pct, opts.MaxAllowedPercentIncrease)
		}
	}
	return ""
}

// PrintReport renders result through log, one structured line per
// difference, and returns the process exit code: 1 iff any difference was
// classified, else 0.
func PrintReport(log *logrus.Logger, result *Result) int {
	if log == nil {
		log = logrus.StandardLogger()
	}
	for _, d := range result.Differences {
		log.WithFields(logrus.Fields{
			"path": d.Path,
			"kind": d.Kind,
		}).Warn(d.Detail)
	}
	log.WithFields(logrus.Fields{
		"got_count":      result.GotCount,
		"expected_count": result.ExpectedCount,
		"differences":    len(result.Differences),
	}).Info("comparison complete")

	if result.HasDifferences() {
		return 1
	}
	return 0
}
