// Package store is the durable ordered key/value+blob engine backing the
// content store's five tables: MANIFESTS, FILES, FILEMANIFESTS,
// MANIFESTGROUPS, GROUPS. It is a thin, typed wrapper over buntdb.DB.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package store

import (
	"strconv"
	"strings"

	"github.com/tidwall/buntdb"

	"github.com/serval-mesh/meshd/cmn/cos"
)

const (
	prefixManifest     = "m:"  // m:<id> -> manifest bytes
	prefixManifestVer  = "mv:" // mv:<id> -> version (decimal)
	prefixManifestKey  = "pk:" // pk:<id> -> sealed bundle private key (BK)
	prefixFile         = "f:"  // f:<hex sha512> -> blob bytes
	prefixFileLen      = "fl:" // fl:<hex sha512> -> length (decimal)
	prefixFilePrio     = "fp:" // fp:<hex sha512> -> highestpriority (decimal)
	prefixFileManifest = "fm:" // fm:<fileid>:<manifestid> -> ""
	prefixManifestGrp  = "mg:" // mg:<manifestid>:<groupid> -> ""
	prefixGroup        = "g:"  // g:<groupid> -> priority (decimal)
)

// Store wraps one buntdb.DB instance opened against rhizome.db.
type Store struct {
	db *buntdb.DB

	// used tracks total blob bytes currently stored; buntdb exposes no
	// page/free-count introspection, so it is maintained as a running
	// counter updated under the same transaction as each blob write/delete.
	used int64
}

// Open opens (creating if absent) the buntdb file at path.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cos.WrapErr(cos.KindIO, err, "store: open %s", path)
	}
	s := &Store{db: db}
	if err := s.loadUsed(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadUsed() error {
	var total int64
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixFileLen+"*", func(_, value string) bool {
			n, _ := strconv.ParseInt(value, 10, 64)
			total += n
			return true
		})
	})
	if err != nil {
		return cos.WrapErr(cos.KindIO, err, "store: load used bytes")
	}
	s.used = total
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Used reports the number of blob bytes currently stored.
func (s *Store) Used() int64 { return s.used }

//
// manifests
//

// PutManifest writes (or replaces) manifest id's text and parsed version.
func (s *Store) PutManifest(id string, manifest []byte, version uint64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(prefixManifest+id, string(manifest), nil)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(prefixManifestVer+id, strconv.FormatUint(version, 10), nil)
		return err
	})
}

// GetManifest returns the stored manifest text and version for id, or
// (nil, 0, false) if absent.
func (s *Store) GetManifest(id string) (manifest []byte, version uint64, ok bool) {
	_ = s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(prefixManifest + id)
		if err != nil {
			return nil
		}
		manifest = []byte(v)
		vv, _ := tx.Get(prefixManifestVer + id)
		n, _ := strconv.ParseUint(vv, 10, 64)
		version, ok = n, true
		return nil
	})
	return
}

// DeleteManifest removes manifest id's rows, group memberships included
// (metadata only; the blob is a separate row, handled by drop_stored_file
// logic in package rhizome).
func (s *Store) DeleteManifest(id string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _ = tx.Delete(prefixManifest + id)
		_, _ = tx.Delete(prefixManifestVer + id)
		_, _ = tx.Delete(prefixManifestKey + id)
		return deleteByPrefix(tx, prefixManifestGrp+id+":")
	})
}

// deleteByPrefix removes every key under prefix; buntdb forbids mutation
// during iteration, so keys are collected first.
func deleteByPrefix(tx *buntdb.Tx, prefix string) error {
	var keys []string
	err := tx.AscendKeys(prefix+"*", func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		_, _ = tx.Delete(k)
	}
	return nil
}

// PutManifestKey stores the sealed bundle private key for a locally
// authored manifest (the MANIFESTS.privatekey column).
func (s *Store) PutManifestKey(id string, sealed []byte) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(prefixManifestKey+id, string(sealed), nil)
		return err
	})
}

// GetManifestKey returns the sealed bundle private key for id, if stored.
func (s *Store) GetManifestKey(id string) ([]byte, bool) {
	var out []byte
	_ = s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(prefixManifestKey + id)
		if err != nil {
			return nil
		}
		out = []byte(v)
		return nil
	})
	return out, out != nil
}

// AllManifestIDs returns every stored manifest id.
func (s *Store) AllManifestIDs() []string {
	var ids []string
	_ = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixManifest+"*", func(key, _ string) bool {
			ids = append(ids, strings.TrimPrefix(key, prefixManifest))
			return true
		})
	})
	return ids
}

//
// files (blobs)
//

// PutFile writes blob under fileid (hex sha512) with the given priority,
// updating the running used-bytes counter.
func (s *Store) PutFile(fileid string, data []byte, priority int) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		if prev, err := tx.Get(prefixFileLen + fileid); err == nil {
			n, _ := strconv.ParseInt(prev, 10, 64)
			s.used -= n
		}
		if _, _, err := tx.Set(prefixFile+fileid, string(data), nil); err != nil {
			return err
		}
		if _, _, err := tx.Set(prefixFileLen+fileid, strconv.Itoa(len(data)), nil); err != nil {
			return err
		}
		_, _, err := tx.Set(prefixFilePrio+fileid, strconv.Itoa(priority), nil)
		s.used += int64(len(data))
		return err
	})
}

// GetFile returns the blob bytes for fileid.
func (s *Store) GetFile(fileid string) ([]byte, bool) {
	var out []byte
	_ = s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(prefixFile + fileid)
		if err != nil {
			return nil
		}
		out = []byte(v)
		return nil
	})
	return out, out != nil
}

// FileLength returns the stored length for fileid without reading the blob.
func (s *Store) FileLength(fileid string) (int, bool) {
	var n int
	found := false
	_ = s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(prefixFileLen + fileid)
		if err != nil {
			return nil
		}
		n64, _ := strconv.ParseInt(v, 10, 64)
		n, found = int(n64), true
		return nil
	})
	return n, found
}

// FilePriority returns the stored highestpriority for fileid.
func (s *Store) FilePriority(fileid string) (int, bool) {
	var p int
	found := false
	_ = s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(prefixFilePrio + fileid)
		if err != nil {
			return nil
		}
		n, _ := strconv.Atoi(v)
		p, found = n, true
		return nil
	})
	return p, found
}

// SetFilePriority updates fileid's highestpriority in place.
func (s *Store) SetFilePriority(fileid string, priority int) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(prefixFilePrio+fileid, strconv.Itoa(priority), nil)
		return err
	})
}

// DeleteFile removes fileid's blob and metadata, decrementing used.
func (s *Store) DeleteFile(fileid string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		if prev, err := tx.Get(prefixFileLen + fileid); err == nil {
			n, _ := strconv.ParseInt(prev, 10, 64)
			s.used -= n
		}
		_, _ = tx.Delete(prefixFile + fileid)
		_, _ = tx.Delete(prefixFileLen + fileid)
		_, _ = tx.Delete(prefixFilePrio + fileid)
		return nil
	})
}

// FilesByDescendingLength returns every file id with priority < maxPriority,
// ordered longest-first, the eviction candidate order makeSpace walks.
func (s *Store) FilesByDescendingLength(maxPriority int) []string {
	type entry struct {
		id  string
		len int
	}
	var all []entry
	_ = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixFilePrio+"*", func(key, value string) bool {
			prio, _ := strconv.Atoi(value)
			if prio >= maxPriority {
				return true
			}
			id := strings.TrimPrefix(key, prefixFilePrio)
			lenv, _ := tx.Get(prefixFileLen + id)
			n, _ := strconv.Atoi(lenv)
			all = append(all, entry{id, n})
			return true
		})
	})
	// simple insertion sort: candidate sets are small (eviction is rare
	// and bounded by store size), no need for sort.Slice's overhead here.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].len > all[j-1].len; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.id
	}
	return out
}

//
// file<->manifest references, manifest<->group membership, groups
//

func (s *Store) AddFileManifestRef(fileid, manifestid string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(prefixFileManifest+fileid+":"+manifestid, "", nil)
		return err
	})
}

func (s *Store) RemoveFileManifestRef(fileid, manifestid string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _ = tx.Delete(prefixFileManifest + fileid + ":" + manifestid)
		return nil
	})
}

// ManifestsForFile returns every manifest id referencing fileid.
func (s *Store) ManifestsForFile(fileid string) []string {
	var out []string
	prefix := prefixFileManifest + fileid + ":"
	_ = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, _ string) bool {
			out = append(out, strings.TrimPrefix(key, prefix))
			return true
		})
	})
	return out
}

// SetManifestGroups replaces manifestid's MANIFESTGROUPS rows with groups,
// dropping memberships a replacing manifest version no longer declares.
func (s *Store) SetManifestGroups(manifestid string, groups []string) error {
	prefix := prefixManifestGrp + manifestid + ":"
	return s.db.Update(func(tx *buntdb.Tx) error {
		if err := deleteByPrefix(tx, prefix); err != nil {
			return err
		}
		for _, g := range groups {
			if _, _, err := tx.Set(prefix+g, "", nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GroupsForManifest returns every group id manifestid belongs to.
func (s *Store) GroupsForManifest(manifestid string) []string {
	var out []string
	prefix := prefixManifestGrp + manifestid + ":"
	_ = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, _ string) bool {
			out = append(out, strings.TrimPrefix(key, prefix))
			return true
		})
	})
	return out
}

func (s *Store) PutGroup(groupid string, priority int) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(prefixGroup+groupid, strconv.Itoa(priority), nil)
		return err
	})
}

func (s *Store) GroupPriority(groupid string) (int, bool) {
	var p int
	found := false
	_ = s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(prefixGroup + groupid)
		if err != nil {
			return nil
		}
		n, _ := strconv.Atoi(v)
		p, found = n, true
		return nil
	})
	return p, found
}
