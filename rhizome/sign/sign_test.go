/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package sign_test

import (
	"bytes"
	"testing"

	"github.com/serval-mesh/meshd/rhizome/sign"
)

func TestSignVerifyManifestHash(t *testing.T) {
	kp, err := sign.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	hash := sign.HashManifest([]byte("id=AB\nversion=1\n\x00"))
	block := sign.SignManifest(kp.Private, hash)
	if !sign.VerifyBlock(kp.Public, hash, block) {
		t.Fatal("signature block must verify against the signing key")
	}
	other, _ := sign.GenerateKeyPair()
	if sign.VerifyBlock(other.Public, hash, block) {
		t.Fatal("signature block must not verify against a different key")
	}
	block[0] = 0x7f // unknown scheme
	if sign.VerifyBlock(kp.Public, hash, block) {
		t.Fatal("an unrecognised signature type must fail verification, not pass")
	}
}

func TestBundleKeyRoundTrip(t *testing.T) {
	kp, _ := sign.GenerateKeyPair()
	rs := sign.AuthorSecret(kp)
	bk := sign.DeriveBundleKey(rs, kp.Public, kp.Private)
	if bytes.Equal(bk, kp.Private) {
		t.Fatal("BK must not equal the raw private key")
	}
	got := sign.RecoverPrivateKey(rs, kp.Public, bk)
	if !bytes.Equal(got, kp.Private) {
		t.Fatal("RecoverPrivateKey(DeriveBundleKey(priv)) != priv")
	}
}

func TestSealOpen(t *testing.T) {
	kp, _ := sign.GenerateKeyPair()
	rs := sign.AuthorSecret(kp)
	boxed, err := sign.Seal(rs, []byte("bundle secret material"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := sign.Open(rs, boxed)
	if err != nil || string(out) != "bundle secret material" {
		t.Fatalf("Open(Seal(x)) = %q, %v", out, err)
	}
	boxed[len(boxed)-1] ^= 0xff
	if _, err := sign.Open(rs, boxed); err == nil {
		t.Fatal("a tampered box must fail authentication")
	}
}

func TestKeyPairFromSeedHex(t *testing.T) {
	kp, _ := sign.GenerateKeyPair()
	seedHex := sign.HexSID(kp.Private.Seed()) // any 32-byte hex works here
	got, err := sign.KeyPairFromSeedHex(seedHex)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Private, kp.Private) {
		t.Fatal("seed round trip must rebuild the same private key")
	}
	if _, err := sign.KeyPairFromSeedHex("zz"); err == nil {
		t.Fatal("bad hex must be rejected")
	}
}
