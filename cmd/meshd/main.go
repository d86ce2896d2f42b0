// Command meshd runs the delay-tolerant mesh networking daemon: interface
// discovery and TX scheduling, overlay frame dispatch,
// rhizome content sync, and VoMP call signalling, glued
// together by the core package.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/valyala/fasthttp"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/cmn/fname"
	"github.com/serval-mesh/meshd/cmn/nlog"
	"github.com/serval-mesh/meshd/config"
	"github.com/serval-mesh/meshd/core"
	"github.com/serval-mesh/meshd/rhizome/sign"
)

var (
	build     string
	buildtime string

	confDir    string
	monitor    string
	callEvents bool
)

func init() {
	flag.StringVar(&confDir, "config", ".", "directory containing rhizome.conf and identity.key")
	flag.StringVar(&monitor, "monitor", "127.0.0.1:4110", "address for the monitor/sync HTTP surface")
	flag.BoolVar(&callEvents, "call-events", false, "emit CALLSTATUS/RINGING/... status lines on stdout")
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		printVer()
		os.Exit(0)
	}
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		nlog.Errorf("meshd: %v", err)
		os.Exit(1)
	}
	self, err := loadOrCreateIdentity()
	if err != nil {
		nlog.Errorf("meshd: identity: %v", err)
		os.Exit(1)
	}
	nlog.Infof("meshd %s (build %s) starting, sid=%s", buildtime, build, hex.EncodeToString(self.Public))

	spaceBytes := int64(64 * cos.MiB)
	if cfg.SpaceKiB > 0 {
		spaceBytes = cfg.SpaceKiB * cos.KiB
	}
	dbPath := filepath.Join(confDir, fname.RhizomeDB)
	c, err := core.New(cfg, dbPath, spaceBytes, self)
	if err != nil {
		nlog.Errorf("meshd: core init: %v", err)
		os.Exit(1)
	}
	defer c.Close()
	if callEvents {
		c.Monitor = os.Stdout
	}

	go func() {
		if err := fasthttp.ListenAndServe(monitor, c.Handler()); err != nil {
			nlog.Errorf("meshd: monitor server: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	if err := c.Start(ctx); err != nil && ctx.Err() == nil {
		nlog.Errorf("meshd: scheduler exited: %v", err)
		nlog.Flush(true)
		os.Exit(1)
	}
	nlog.Flush(true)
}

func loadConfig() (*config.Config, error) {
	path := filepath.Join(confDir, fname.RhizomeConf)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Defaults(), nil
	}
	return config.Load(path)
}

// loadOrCreateIdentity reads the daemon's Ed25519 keypair from
// <confDir>/identity.key (32-byte seed), generating and persisting one on
// first run.
func loadOrCreateIdentity() (sign.KeyPair, error) {
	path := filepath.Join(confDir, "identity.key")
	seed, err := os.ReadFile(path)
	if err == nil && len(seed) == ed25519.SeedSize {
		priv := ed25519.NewKeyFromSeed(seed)
		return sign.KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
	}
	kp, err := sign.GenerateKeyPair()
	if err != nil {
		return sign.KeyPair{}, err
	}
	if err := os.WriteFile(path, kp.Private.Seed(), 0o600); err != nil {
		return sign.KeyPair{}, cos.WrapErr(cos.KindIO, err, "meshd: write identity")
	}
	return kp, nil
}

func printVer() {
	fmt.Printf("meshd version %s (build %s)\n", buildtime, build)
}
