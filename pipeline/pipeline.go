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

// Package pipeline drives a manifest through a TarWriter or ZipWriter,
// resolving each entry's effective mode/owner against three layers of
// precedence (the manifest entry's own fields, a per-path CLI remap, and
// a global CLI default), then dispatching by entry kind. The writers are
// driven directly from the manifest; no temporary directory tree is
// materialized first.
package pipeline

import (
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/holocm/pkgforge/internal/pkgerr"
	"github.com/holocm/pkgforge/manifest"
	"github.com/holocm/pkgforge/tarwriter"
	"github.com/holocm/pkgforge/zipwriter"
)

// Owner is a resolved uid/gid/uname/gname tuple for one manifest entry.
type Owner struct {
	UID, GID     int
	Uname, Gname string
}

// Options carries the CLI-supplied defaults and per-path overrides applied
// on top of each manifest entry's own mode/user/group fields.
type Options struct {
	// DefaultMode is an octal string ("" leaves the writer's own kind
	// default: 0755 for directories, 0644 for files).
	DefaultMode string
	// DefaultOwner is "uid.gid"; "" means "0.0".
	DefaultOwner string
	// DefaultOwnerName is "uname.gname"; "" means no names are set.
	DefaultOwnerName string
	Modes            map[string]string // dest -> octal mode
	Owners           map[string]string // dest -> "uid.gid"
	OwnerNames       map[string]string // dest -> "uname.gname"
	// RootPrefix rewrites KindSymlink (not KindRawSymlink) targets that
	// are not absolute, so links keep pointing inside the tree after the
	// writer re-roots the entry names. The writer itself owns re-rooting
	// of dest paths; set the same prefix on its own options.
	RootPrefix string
	// ZipMtime is applied to every BuildZip entry; the zero value lets
	// zipwriter clamp to its own 1980 epoch default. BuildTar ignores this
	// field since tarwriter's mtime policy lives on the Writer itself.
	ZipMtime time.Time
}

// StampInfo is the shape of a --stamp_from build-info file: a small TOML
// document carrying the epoch to substitute for a manifest's mtime policy.
type StampInfo struct {
	SourceDateEpoch int64 `toml:"source_date_epoch"`
}

// LoadStampFrom reads a --stamp_from file and returns its SOURCE_DATE_EPOCH.
func LoadStampFrom(path string) (int64, error) {
	var info StampInfo
	if _, err := toml.DecodeFile(path, &info); err != nil {
		return 0, pkgerr.Wrap(pkgerr.IoError, err, "cannot read stamp file %s", path)
	}
	return info.SourceDateEpoch, nil
}

func resolveMode(e manifest.Entry, opts Options) (*int64, error) {
	raw := e.Mode
	if raw == "" {
		raw = opts.Modes[e.Dest]
	}
	if raw == "" {
		raw = opts.DefaultMode
	}
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 8, 64)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.BadArgument, err, "invalid octal mode %q for %s", raw, e.Dest)
	}
	return &v, nil
}

func splitDotPair(s string) (a, b string, ok bool) {
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// resolveOwner applies the manifest-entry / per-path-remap / global-default
// precedence independently for each of uid, gid, uname, gname.
func resolveOwner(e manifest.Entry, opts Options) (Owner, error) {
	var uid, gid *int
	var uname, gname *string

	if e.UID != nil {
		v := int(*e.UID)
		uid = &v
	}
	if e.GID != nil {
		v := int(*e.GID)
		gid = &v
	}
	if e.User != "" {
		uname = &e.User
	}
	if e.Group != "" {
		gname = &e.Group
	}

	if uid == nil || gid == nil {
		if raw, ok := opts.Owners[e.Dest]; ok {
			u, g, ok2 := splitDotPair(raw)
			if !ok2 {
				return Owner{}, pkgerr.New(pkgerr.BadArgument, "malformed owner %q for %s", raw, e.Dest)
			}
			uv, err := strconv.Atoi(u)
			if err != nil {
				return Owner{}, pkgerr.Wrap(pkgerr.BadArgument, err, "malformed owner uid in %q", raw)
			}
			gv, err := strconv.Atoi(g)
			if err != nil {
				return Owner{}, pkgerr.Wrap(pkgerr.BadArgument, err, "malformed owner gid in %q", raw)
			}
			if uid == nil {
				uid = &uv
			}
			if gid == nil {
				gid = &gv
			}
		}
	}
	if uname == nil || gname == nil {
		if raw, ok := opts.OwnerNames[e.Dest]; ok {
			u, g, ok2 := splitDotPair(raw)
			if !ok2 {
				return Owner{}, pkgerr.New(pkgerr.BadArgument, "malformed owner_name %q for %s", raw, e.Dest)
			}
			if uname == nil {
				uname = &u
			}
			if gname == nil {
				gname = &g
			}
		}
	}

	if uid == nil || gid == nil {
		def := opts.DefaultOwner
		if def == "" {
			def = "0.0"
		}
		u, g, ok := splitDotPair(def)
		if !ok {
			return Owner{}, pkgerr.New(pkgerr.BadArgument, "malformed default owner %q", def)
		}
		uv, err := strconv.Atoi(u)
		if err != nil {
			return Owner{}, pkgerr.Wrap(pkgerr.BadArgument, err, "malformed default owner uid in %q", def)
		}
		gv, err := strconv.Atoi(g)
		if err != nil {
			return Owner{}, pkgerr.Wrap(pkgerr.BadArgument, err, "malformed default owner gid in %q", def)
		}
		if uid == nil {
			uid = &uv
		}
		if gid == nil {
			gid = &gv
		}
	}
	if uname == nil || gname == nil {
		if opts.DefaultOwnerName != "" {
			u, g, ok := splitDotPair(opts.DefaultOwnerName)
			if !ok {
				return Owner{}, pkgerr.New(pkgerr.BadArgument, "malformed default owner_name %q", opts.DefaultOwnerName)
			}
			if uname == nil {
				uname = &u
			}
			if gname == nil {
				gname = &g
			}
		}
	}

	o := Owner{UID: *uid, GID: *gid}
	if uname != nil {
		o.Uname = *uname
	}
	if gname != nil {
		o.Gname = *gname
	}
	return o, nil
}

func rerootSymlinkTarget(target string, opts Options, raw bool) string {
	if raw || opts.RootPrefix == "" || strings.HasPrefix(target, "/") {
		return target
	}
	return path.Join(opts.RootPrefix, target)
}

// BuildTar drains entries into w, resolving mode/owner per Options and
// dispatching by Kind: file/empty_file become regular entries, dir an
// empty directory, symlink/raw_symlink a link (raw_symlink's target is
// never re-rooted), tree delegates to AddTree.
func BuildTar(w *tarwriter.Writer, entries []manifest.Entry, opts Options) error {
	for _, e := range entries {
		e.Dest = strings.TrimLeft(e.Dest, "/")
		mode, err := resolveMode(e, opts)
		if err != nil {
			return err
		}
		owner, err := resolveOwner(e, opts)
		if err != nil {
			return err
		}

		switch e.Kind {
		case manifest.KindFile:
			content, err := os.ReadFile(e.Src)
			if err != nil {
				return pkgerr.Wrap(pkgerr.IoError, err, "cannot read %s", e.Src)
			}
			if err := w.AddFile(tarwriter.FileEntry{
				Name: e.Dest, Kind: tarwriter.KindRegular, Content: content, Mode: mode,
				UID: owner.UID, GID: owner.GID, Uname: owner.Uname, Gname: owner.Gname,
			}); err != nil {
				return err
			}
		case manifest.KindEmptyFile:
			if err := w.AddFile(tarwriter.FileEntry{
				Name: e.Dest, Kind: tarwriter.KindRegular, Mode: mode,
				UID: owner.UID, GID: owner.GID, Uname: owner.Uname, Gname: owner.Gname,
			}); err != nil {
				return err
			}
		case manifest.KindDir:
			if err := w.AddFile(tarwriter.FileEntry{
				Name: e.Dest, Kind: tarwriter.KindDirectory, Mode: mode,
				UID: owner.UID, GID: owner.GID, Uname: owner.Uname, Gname: owner.Gname,
			}); err != nil {
				return err
			}
		case manifest.KindSymlink, manifest.KindRawSymlink:
			target := rerootSymlinkTarget(e.Src, opts, e.Kind == manifest.KindRawSymlink)
			if err := w.AddFile(tarwriter.FileEntry{
				Name: e.Dest, Kind: tarwriter.KindSymlink, Link: target,
				UID: owner.UID, GID: owner.GID, Uname: owner.Uname, Gname: owner.Gname,
			}); err != nil {
				return err
			}
		case manifest.KindTree:
			if err := w.AddTree(e.Src, e.Dest, tarwriter.AddTreeOptions{
				Mode: mode, UID: owner.UID, GID: owner.GID, Uname: owner.Uname, Gname: owner.Gname,
			}); err != nil {
				return err
			}
		default:
			return pkgerr.New(pkgerr.BadArgument, "unknown manifest entry kind %q", e.Kind)
		}
	}
	return nil
}

// BuildZip is BuildTar's zip counterpart; zipwriter has no owner concept,
// so only the resolved mode (os.FileMode) and kind dispatch apply.
func BuildZip(w *zipwriter.Writer, entries []manifest.Entry, opts Options) error {
	for _, e := range entries {
		e.Dest = strings.TrimLeft(e.Dest, "/")
		mode, err := resolveMode(e, opts)
		if err != nil {
			return err
		}
		var fm os.FileMode
		if mode != nil {
			fm = os.FileMode(*mode)
		}

		switch e.Kind {
		case manifest.KindFile:
			content, err := os.ReadFile(e.Src)
			if err != nil {
				return pkgerr.Wrap(pkgerr.IoError, err, "cannot read %s", e.Src)
			}
			if err := w.Add(zipwriter.Entry{Name: e.Dest, Kind: zipwriter.KindFile, Content: content, Mode: fm, Mtime: opts.ZipMtime}); err != nil {
				return err
			}
		case manifest.KindEmptyFile:
			if err := w.Add(zipwriter.Entry{Name: e.Dest, Kind: zipwriter.KindEmptyFile, Mode: fm, Mtime: opts.ZipMtime}); err != nil {
				return err
			}
		case manifest.KindDir:
			if err := w.Add(zipwriter.Entry{Name: e.Dest, Kind: zipwriter.KindDir, Mode: fm, Mtime: opts.ZipMtime}); err != nil {
				return err
			}
		case manifest.KindSymlink, manifest.KindRawSymlink:
			target := rerootSymlinkTarget(e.Src, opts, e.Kind == manifest.KindRawSymlink)
			if err := w.Add(zipwriter.Entry{Name: e.Dest, Kind: zipwriter.KindSymlink, Link: target, Mtime: opts.ZipMtime}); err != nil {
				return err
			}
		case manifest.KindTree:
			if err := w.Add(zipwriter.Entry{Kind: zipwriter.KindTree, Top: e.Src, Dest: e.Dest, Mtime: opts.ZipMtime}); err != nil {
				return err
			}
		default:
			return pkgerr.New(pkgerr.BadArgument, "unknown manifest entry kind %q", e.Kind)
		}
	}
	return nil
}
