// Package sign provides the store's cryptographic capability: keypair
// generation, Ed25519 sign/verify over a
// manifest's hash, and the author-secret XOR construction that derives a
// bundle's encrypted private key.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/serval-mesh/meshd/cmn/cos"
)

// SigType identifies the signature scheme in a manifest's signature block
// (one type byte followed by the signature bytes). Ed25519 is the only scheme a
// conforming store is required to verify; manifests signed by a scheme
// this store does not recognise are rejected, not skipped.
type SigType byte

const SigEd25519 SigType = 1

// KeyPair is an Ed25519 identity: Public is the SID, Private
// signs manifests on this device's behalf.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair returns a fresh SID keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, cos.WrapErr(cos.KindCrypto, err, "sign: generate keypair")
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromSeedHex rebuilds a keypair from a hex-encoded 32-byte seed,
// the form the rhizome.api.addfile.bundlesecretkey option carries.
func KeyPairFromSeedHex(seedHex string) (KeyPair, error) {
	if len(seedHex) != ed25519.SeedSize*2 {
		return KeyPair{}, cos.NewErr(cos.KindParse, "sign: seed must be %d hex chars, got %d", ed25519.SeedSize*2, len(seedHex))
	}
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		hi, ok1 := hexNibble(seedHex[i*2])
		lo, ok2 := hexNibble(seedHex[i*2+1])
		if !ok1 || !ok2 {
			return KeyPair{}, cos.NewErr(cos.KindParse, "sign: seed is not valid hex")
		}
		seed[i] = hi<<4 | lo
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// HashManifest returns SHA-512 of the manifest text, covering everything
// up to and including the terminating NUL.
func HashManifest(textWithNUL []byte) [64]byte {
	return sha512.Sum512(textWithNUL)
}

// SignManifest produces one signature block (type byte + raw Ed25519
// signature) over the manifest hash, using priv.
func SignManifest(priv ed25519.PrivateKey, hash [64]byte) []byte {
	sig := ed25519.Sign(priv, hash[:])
	block := make([]byte, 1+len(sig))
	block[0] = byte(SigEd25519)
	copy(block[1:], sig)
	return block
}

// VerifyBlock checks one signature block against pub and hash. An
// unrecognised SigType is a verification failure, not a silent pass.
func VerifyBlock(pub ed25519.PublicKey, hash [64]byte, block []byte) bool {
	if len(block) < 1 {
		return false
	}
	switch SigType(block[0]) {
	case SigEd25519:
		sig := block[1:]
		return len(sig) == ed25519.SignatureSize && ed25519.Verify(pub, hash[:], sig)
	default:
		return false
	}
}

// SelfSigned reports whether blocks contains at least one Ed25519 block
// verifying against pub/hash.
func SelfSigned(pub ed25519.PublicKey, hash [64]byte, blocks [][]byte) bool {
	for _, b := range blocks {
		if len(b) > 0 && SigType(b[0]) == SigEd25519 && VerifyBlock(pub, hash, b) {
			return true
		}
	}
	return false
}

// PayloadHash returns the hex-encoded SHA-512 of payload, or "" for a
// zero-length payload.
func PayloadHash(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := sha512.Sum512(payload)
	return hexEncode(sum[:])
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xf]
	}
	return string(out)
}

const hexDigitsUpper = "0123456789ABCDEF"

// HexSID returns pub in its manifest-id spelling: uppercase hex.
func HexSID(pub ed25519.PublicKey) string {
	out := make([]byte, len(pub)*2)
	for i, v := range pub {
		out[i*2] = hexDigitsUpper[v>>4]
		out[i*2+1] = hexDigitsUpper[v&0xf]
	}
	return string(out)
}

// DeriveBundleKey computes BK = privateKey XOR SHA512(RS || id), the
// author-secret construction that lets the author republish from any
// device holding RS. The XOR is applied
// over min(len(privateKey), 64) bytes; Ed25519 private keys are 64 bytes,
// matching the SHA-512 digest width exactly.
func DeriveBundleKey(rs []byte, id []byte, privateKey ed25519.PrivateKey) []byte {
	mask := sha512.Sum512(append(append([]byte{}, rs...), id...))
	bk := make([]byte, len(privateKey))
	for i := range bk {
		bk[i] = privateKey[i] ^ mask[i%len(mask)]
	}
	return bk
}

// RecoverPrivateKey reverses DeriveBundleKey given the same RS/id: XOR is
// its own inverse.
func RecoverPrivateKey(rs []byte, id []byte, bk []byte) ed25519.PrivateKey {
	mask := sha512.Sum512(append(append([]byte{}, rs...), id...))
	priv := make(ed25519.PrivateKey, len(bk))
	for i := range priv {
		priv[i] = bk[i] ^ mask[i%len(mask)]
	}
	return priv
}

// AuthorSecret derives the local per-author secret RS from an identity
// keypair. RS is a symmetric secret distinct from the signing key itself;
// any device holding the same identity seed derives the same RS and can
// therefore republish this author's bundles.
func AuthorSecret(kp KeyPair) []byte {
	sum := sha512.Sum512(append([]byte("meshd-author-secret"), kp.Private.Seed()...))
	return sum[:32]
}

const sealNonceSize = 24

// Seal boxes plaintext under the symmetric secret rs, prepending the
// random nonce to the ciphertext.
func Seal(rs, plaintext []byte) ([]byte, error) {
	var key [32]byte
	copy(key[:], rs)
	var nonce [sealNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, cos.WrapErr(cos.KindCrypto, err, "sign: seal nonce")
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &key), nil
}

// Open reverses Seal, authenticating the ciphertext in the process.
func Open(rs, boxed []byte) ([]byte, error) {
	if len(boxed) < sealNonceSize {
		return nil, cos.NewErr(cos.KindCrypto, "sign: boxed blob shorter than nonce")
	}
	var key [32]byte
	copy(key[:], rs)
	var nonce [sealNonceSize]byte
	copy(nonce[:], boxed[:sealNonceSize])
	out, ok := secretbox.Open(nil, boxed[sealNonceSize:], &nonce, &key)
	if !ok {
		return nil, cos.NewErr(cos.KindCrypto, "sign: box authentication failed")
	}
	return out, nil
}
