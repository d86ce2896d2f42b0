// Package rhizome implements the content store: manifest
// parsing/signing (manifest.go), content-addressed blobs, priority-bounded
// eviction, and duplicate-version suppression, on top of the durable
// key/value+blob engine in package store.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package rhizome

import (
	"crypto/ed25519"
	"strings"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/cmn/nlog"
	"github.com/serval-mesh/meshd/rhizome/sign"
	"github.com/serval-mesh/meshd/rhizome/store"
)

// headroom is the make_space reserve: an add must leave this much slack
// under the configured space.
const headroom = 64 * cos.KiB

// Bundle is the immutable triple identifying one stored content item.
type Bundle struct {
	ManifestID  string // uppercase hex Ed25519 public key
	Version     uint64
	PayloadHash string // hex SHA-512, or "" for zero-length payloads
}

// Store is the content store: a configured space budget over package
// store's durable tables.
type Store struct {
	db    *store.Store
	space int64 // total bytes available to the store

	author   sign.KeyPair
	authorRS []byte // per-author secret, nil until SetAuthor
}

// SetAuthor installs the local identity whose bundles get their private
// key persisted (sealed under RS) in the privatekey column, enabling
// republication from any device holding the same RS.
func (s *Store) SetAuthor(kp sign.KeyPair) {
	s.author = kp
	s.authorRS = sign.AuthorSecret(kp)
}

// Open opens the store at path with the given space budget in bytes.
func Open(path string, spaceBytes int64) (*Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, space: spaceBytes}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SetSpace updates the runtime-configurable total-bytes budget.
func (s *Store) SetSpace(bytes int64) { s.space = bytes }

// Space reports the configured total-bytes budget.
func (s *Store) Space() int64 { return s.space }

// PutGroup registers groupid's priority, consulted by
// EffectivePriority and the new-bundle priority lookup.
func (s *Store) PutGroup(groupid string, priority int) error { return s.db.PutGroup(groupid, priority) }

// Used reports the current blob-bytes footprint ("used = page_size *
// (page_count - free_count)" in the SQL-engine original; here it is the
// store's running byte counter, see the used field of store.Store).
func (s *Store) Used() int64 { return s.db.Used() }

// Add runs the full add flow for one candidate bundle: sanity check,
// duplicate-version detection, make_space, and the writes of the blob,
// manifest, group, and reference rows. Each of those writes is its own
// store transaction, so a failure part way through leaves the rows
// already written in place. Signatures are verified against the
// manifest's own id (the bundle's public key), so bundles authored by any
// peer are importable.
func (s *Store) Add(m *Manifest, payload []byte) (Bundle, error) {
	if err := m.Validate(); err != nil {
		return Bundle{}, err
	}
	id, _ := m.Get("id")
	id = strings.ToUpper(id)
	filesize := m.Filesize()
	if int64(len(payload)) != filesize {
		return Bundle{}, cos.NewErr(cos.KindValidation, "rhizome: payload length %d does not match manifest filesize %d", len(payload), filesize)
	}
	payloadHash := sign.PayloadHash(payload)
	if filesize > 0 {
		want, _ := m.Get("filehash")
		if !strings.EqualFold(want, payloadHash) {
			return Bundle{}, cos.NewErr(cos.KindValidation, "rhizome: filehash %s does not match payload hash %s", want, payloadHash)
		}
	}
	pubBytes, err := hexDecode(id)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return Bundle{}, cos.NewErr(cos.KindValidation, "rhizome: id %s is not a 32-byte public key", id)
	}
	hash := m.Hash()
	if len(m.Signatures) == 0 || !sign.SelfSigned(ed25519.PublicKey(pubBytes), hash, m.Signatures) {
		return Bundle{}, cos.NewErr(cos.KindCrypto, "rhizome: manifest %s has no verifying Ed25519 signature", id)
	}

	version := m.Version()
	var replacedFileid string
	if oldRaw, existingVer, ok := s.db.GetManifest(id); ok {
		switch {
		case existingVer > version:
			return Bundle{}, cos.NewErr(cos.KindStale, "rhizome: stored version %d >= new version %d for %s", existingVer, version, id)
		case existingVer == version:
			return Bundle{}, cos.NewErr(cos.KindAlreadyPresent, "rhizome: %s version %d already present", id, version)
		}
		if old, err := Parse(oldRaw); err == nil {
			replacedFileid, _ = old.Get("filehash")
			if replacedFileid == "" {
				replacedFileid = "empty"
			}
		}
	}

	priority := s.effectiveNewPriority(m)
	if err := s.makeSpace(priority, int64(len(payload))); err != nil {
		return Bundle{}, err
	}

	fileid := payloadHash
	if fileid == "" {
		fileid = "empty"
	}
	if err := s.db.PutFile(fileid, payload, priority); err != nil {
		return Bundle{}, cos.WrapErr(cos.KindIO, err, "rhizome: write blob %s", fileid)
	}
	if err := s.db.PutManifest(id, m.Serialize(), version); err != nil {
		return Bundle{}, cos.WrapErr(cos.KindIO, err, "rhizome: write manifest %s", id)
	}
	if err := s.db.SetManifestGroups(id, declaredGroups(m)); err != nil {
		return Bundle{}, cos.WrapErr(cos.KindIO, err, "rhizome: write group rows for %s", id)
	}
	if err := s.db.AddFileManifestRef(fileid, id); err != nil {
		return Bundle{}, cos.WrapErr(cos.KindIO, err, "rhizome: write reference %s/%s", fileid, id)
	}
	s.refreshFilePriority(fileid)
	if replacedFileid != "" && replacedFileid != fileid {
		// Replacing an older version: drop its blob reference, and the blob
		// itself once nothing else refers to it.
		s.db.RemoveFileManifestRef(replacedFileid, id)
		if len(s.db.ManifestsForFile(replacedFileid)) == 0 {
			s.db.DeleteFile(replacedFileid)
		} else {
			s.refreshFilePriority(replacedFileid)
		}
	}
	if err := s.storeBundleKey(id, pubBytes); err != nil {
		nlog.Warningf("rhizome: %v", err)
	}
	nlog.Infof("rhizome: stored %s v%d (%d bytes)", id, version, len(payload))
	return Bundle{ManifestID: id, Version: version, PayloadHash: payloadHash}, nil
}

// storeBundleKey fills the privatekey column for bundles this node
// authored: BK = privateKey XOR SHA512(RS || id), sealed under RS before
// it touches the durable store.
func (s *Store) storeBundleKey(id string, idBytes []byte) error {
	if s.authorRS == nil || !strings.EqualFold(id, sign.HexSID(s.author.Public)) {
		return nil
	}
	bk := sign.DeriveBundleKey(s.authorRS, idBytes, s.author.Private)
	sealed, err := sign.Seal(s.authorRS, bk)
	if err != nil {
		return err
	}
	return s.db.PutManifestKey(id, sealed)
}

// BundleSecret recovers the signing key for a stored bundle this node
// (or a device sharing its RS) authored.
func (s *Store) BundleSecret(id string) (ed25519.PrivateKey, bool) {
	id = strings.ToUpper(id)
	sealed, ok := s.db.GetManifestKey(id)
	if !ok || s.authorRS == nil {
		return nil, false
	}
	bk, err := sign.Open(s.authorRS, sealed)
	if err != nil {
		return nil, false
	}
	idBytes, err := hexDecode(id)
	if err != nil {
		return nil, false
	}
	return sign.RecoverPrivateKey(s.authorRS, idBytes, bk), true
}

// declaredGroups returns the group ids a manifest's "groups" field names.
func declaredGroups(m *Manifest) []string {
	groups, _ := m.Get("groups")
	if groups == "" {
		return nil
	}
	return strings.Split(groups, ",")
}

// effectiveNewPriority is max(group.priority) over whatever groups the
// candidate manifest declares membership in; a manifest with no declared
// group defaults to priority 0. Used before the manifest's own rows exist,
// so it reads the declaration rather than MANIFESTGROUPS.
func (s *Store) effectiveNewPriority(m *Manifest) int {
	best := 0
	for _, g := range declaredGroups(m) {
		if p, ok := s.db.GroupPriority(g); ok && p > best {
			best = p
		}
	}
	return best
}

// refreshFilePriority reconciles the FILES.highestpriority cache with the
// live max effective priority across every manifest referencing fileid.
// Called whenever a reference is added or removed, so eviction candidate
// selection (FilesByDescendingLength) never consults a stale value.
func (s *Store) refreshFilePriority(fileid string) {
	best := 0
	for _, mid := range s.db.ManifestsForFile(fileid) {
		if p := s.EffectivePriority(mid); p > best {
			best = p
		}
	}
	if err := s.db.SetFilePriority(fileid, best); err != nil {
		nlog.Warningf("rhizome: refresh priority for %s: %v", fileid, err)
	}
}

// EffectivePriority computes max(group.priority) for an already-stored
// manifest: the max of group.priority over every group the manifest
// belongs to.
func (s *Store) EffectivePriority(manifestID string) int {
	best := 0
	for _, g := range s.db.GroupsForManifest(manifestID) {
		if p, ok := s.db.GroupPriority(g); ok && p > best {
			best = p
		}
	}
	return best
}

// makeSpace frees room for an incoming payload: proceed immediately if headroom
// allows; otherwise evict lower-priority files longest-first until enough
// room exists, never touching a file at or above priority.
func (s *Store) makeSpace(priority int, payloadSize int64) error {
	if s.db.Used()+payloadSize <= s.space-headroom {
		return nil
	}
	for _, fileid := range s.db.FilesByDescendingLength(priority) {
		if s.db.Used()+payloadSize <= s.space-headroom {
			return nil
		}
		s.dropStoredFile(fileid, priority+1)
	}
	if s.db.Used()+payloadSize > s.space-headroom {
		return cos.NewErr(cos.KindSpace, "rhizome: no space for %d bytes at priority %d", payloadSize, priority)
	}
	return nil
}

// dropStoredFile drops one stored file, bounded by maxPriority: for
// every manifest referencing fileid, retain the blob if any referencing
// manifest's effective priority exceeds maxPriority (deleting only the
// lower-priority manifests), else delete the blob and all references.
func (s *Store) dropStoredFile(fileid string, maxPriority int) {
	refs := s.db.ManifestsForFile(fileid)
	retain := false
	for _, mid := range refs {
		if s.EffectivePriority(mid) > maxPriority {
			retain = true
		}
	}
	if retain {
		for _, mid := range refs {
			if s.EffectivePriority(mid) <= maxPriority {
				s.db.DeleteManifest(mid)
				s.db.RemoveFileManifestRef(fileid, mid)
				nlog.Infof("rhizome: evicted manifest %s (blob %s retained by a higher-priority referrer)", mid, fileid)
			}
		}
		s.refreshFilePriority(fileid)
		return
	}
	for _, mid := range refs {
		s.db.DeleteManifest(mid)
		s.db.RemoveFileManifestRef(fileid, mid)
	}
	s.db.DeleteFile(fileid)
	nlog.Infof("rhizome: evicted blob %s and all referring manifests", fileid)
}

// Lookup returns the manifest text and version currently reachable for id.
func (s *Store) Lookup(id string) (manifest []byte, version uint64, ok bool) {
	return s.db.GetManifest(strings.ToUpper(id))
}

// Payload returns the blob bytes for a stored bundle's payload hash.
func (s *Store) Payload(payloadHash string) ([]byte, bool) {
	if payloadHash == "" {
		return nil, true
	}
	return s.db.GetFile(payloadHash)
}

// AllIDs lists every stored manifest id (uppercase hex).
func (s *Store) AllIDs() []string { return s.db.AllManifestIDs() }

// AllBARs returns a BAR for every currently stored manifest, for the sync
// protocol's enquiry requests.
func (s *Store) AllBARs() []BAR {
	var out []BAR
	for _, id := range s.db.AllManifestIDs() {
		raw, version, ok := s.db.GetManifest(id)
		if !ok {
			continue
		}
		m, err := Parse(raw)
		if err != nil {
			continue
		}
		filehash, _ := m.Get("filehash")
		size, _ := s.db.FileLength(filehash)
		bar, err := NewBAR(id, version, int64(size))
		if err != nil {
			continue
		}
		out = append(out, bar)
	}
	return out
}
