// Package fname contains filename constants for meshd's persistent state
// directory: the content store and its config file.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package fname

const (
	// RhizomeDB is the content store's durable key/value+blob file.
	RhizomeDB = "rhizome.db"
	// RhizomeConf is the flat key=value text config file that config.Load
	// reads: "space=<KiB>" and every other recognised option.
	RhizomeConf = "rhizome.conf"
)
