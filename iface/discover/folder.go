// Package discover implements interface discovery sources for the
// interface manager: a folder scan for file-backed "dummy"
// interfaces used in tests and loopback simulations.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package discover

import (
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/serval-mesh/meshd/cmn/cos"
)

// Found is one file-backed dummy interface discovered under a folder.
type Found struct {
	// Name is the interface name as it will appear in the subscriber/
	// interface tables, always prefixed with '>'.
	Name string
	Path string
}

// FolderSource scans Folder (non-recursively) for regular files and
// reports each as a file-backed dummy interface candidate; the interface
// manager's rule filter decides whether a given name is actually admitted.
type FolderSource struct {
	Folder string
}

// Discover lists the regular files directly under Folder.
func (fs *FolderSource) Discover() ([]Found, error) {
	if fs.Folder == "" {
		return nil, nil
	}
	var out []Found
	err := godirwalk.Walk(fs.Folder, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == fs.Folder {
				return nil
			}
			isDir, err := de.IsDirOrSymlinkToDir()
			if err != nil {
				return err
			}
			if isDir {
				return filepath.SkipDir
			}
			name := filepath.Base(path)
			if strings.HasPrefix(name, ".") {
				return nil
			}
			out = append(out, Found{Name: ">" + name, Path: path})
			return nil
		},
	})
	if err != nil {
		return nil, cos.WrapErr(cos.KindIO, err, "discover: walk %s", fs.Folder)
	}
	return out, nil
}
