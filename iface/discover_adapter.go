/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package iface

import "github.com/serval-mesh/meshd/iface/discover"

// folderDiscoverer is the narrow surface discover.FolderSource exposes.
type folderDiscoverer interface {
	Discover() ([]discover.Found, error)
}

// FolderAdapter wraps a discover.FolderSource (or anything with the same
// shape) as a Manager Source, translating its Found records into
// SourceInterface candidates for the >name dummy-interface filter.
type FolderAdapter struct {
	src folderDiscoverer
}

func NewFolderAdapter(folder string) *FolderAdapter {
	return &FolderAdapter{src: &discover.FolderSource{Folder: folder}}
}

func (a *FolderAdapter) Discover() ([]SourceInterface, error) {
	found, err := a.src.Discover()
	if err != nil {
		return nil, err
	}
	out := make([]SourceInterface, len(found))
	for i, f := range found {
		out[i] = SourceInterface{Name: f.Name, Dummy: true, FilePath: f.Path}
	}
	return out, nil
}
