// Package config loads meshd's recognised options: a flat
// `key=value` file (`rhizome.conf`) plus a typed Config struct consulted
// by every other package at startup, and a jsoniter-marshalled status
// document for the monitor HTTP surface.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/iface"
)

// AddFile holds the submitBareFileURI family of options.
type AddFile struct {
	URI               string
	AllowedAddress    string
	ManifestTemplate  string
	Author            string
	BundleSecretKeyHx string
}

// Config is the typed form of every recognised option.
type Config struct {
	SpaceKiB               int64 // content store budget; 0 means the built-in default
	RhizomeEnable          bool
	RhizomeFetchIntervalMS int
	MDPTickMSByType        map[string]int
	MDPTickMSByInterface   map[string]int
	AddFile                AddFile
	InterfaceFolder        string
	InterfaceRules         []iface.Rule
}

// Defaults returns the documented option defaults.
func Defaults() *Config {
	return &Config{
		RhizomeEnable:          true,
		RhizomeFetchIntervalMS: 3000,
		MDPTickMSByType:        make(map[string]int),
		MDPTickMSByInterface:   make(map[string]int),
		AddFile:                AddFile{AllowedAddress: "127.0.0.1"},
	}
}

// Load reads a flat key=value file, one entry per line, '#' starting a
// comment, applying each recognised option onto a fresh Defaults() config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cos.WrapErr(cos.KindIO, err, "config: open %s", path)
	}
	defer f.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, cos.NewErr(cos.KindParse, "config: %s:%d: missing '=' in %q", path, lineNo, line)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if err := apply(cfg, key, val); err != nil {
			return nil, cos.WrapErr(cos.KindParse, err, "config: %s:%d", path, lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, cos.WrapErr(cos.KindIO, err, "config: read %s", path)
	}
	return cfg, nil
}

func apply(cfg *Config, key, val string) error {
	switch {
	case key == "space":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil || n < 0 {
			return cos.NewErr(cos.KindValidation, "space: %q not a non-negative KiB count", val)
		}
		cfg.SpaceKiB = n
	case key == "rhizome.enable":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return cos.NewErr(cos.KindValidation, "rhizome.enable: %q not a bool", val)
		}
		cfg.RhizomeEnable = b
	case key == "rhizome.fetch_interval_ms":
		n, err := boundedInt(val, 1, 3_600_000)
		if err != nil {
			return cos.NewErr(cos.KindValidation, "rhizome.fetch_interval_ms: %v", err)
		}
		cfg.RhizomeFetchIntervalMS = n
	case key == "interface.folder":
		cfg.InterfaceFolder = val
	case key == "interface_rules":
		r, err := iface.ParseRule(val)
		if err != nil {
			return err
		}
		cfg.InterfaceRules = append(cfg.InterfaceRules, r)
	case key == "rhizome.api.addfile.uri":
		cfg.AddFile.URI = val
	case key == "rhizome.api.addfile.allowedaddress":
		cfg.AddFile.AllowedAddress = val
	case key == "rhizome.api.addfile.manifesttemplate":
		cfg.AddFile.ManifestTemplate = val
	case key == "rhizome.api.addfile.author":
		cfg.AddFile.Author = val
	case key == "rhizome.api.addfile.bundlesecretkey":
		cfg.AddFile.BundleSecretKeyHx = val
	case strings.HasPrefix(key, "mdp.") && strings.HasSuffix(key, ".tick_ms"):
		name := strings.TrimSuffix(strings.TrimPrefix(key, "mdp."), ".tick_ms")
		n, err := boundedInt(val, 1, 3_600_000)
		if err != nil {
			return cos.NewErr(cos.KindValidation, "%s: %v", key, err)
		}
		if isMDPType(name) {
			cfg.MDPTickMSByType[name] = n
		} else {
			cfg.MDPTickMSByInterface[name] = n
		}
	default:
		return cos.NewErr(cos.KindValidation, "config: unrecognised option %q", key)
	}
	return nil
}

// isMDPType distinguishes mdp.<type>.tick_ms (an interface class) from
// mdp.<name>.tick_ms (one named interface).
func isMDPType(name string) bool {
	switch name {
	case "ethernet", "wifi", "packetradio", "unknown":
		return true
	default:
		return false
	}
}

func boundedInt(val string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, cos.NewErr(cos.KindParse, "%q not an integer", val)
	}
	if n < lo || n > hi {
		return 0, cos.NewErr(cos.KindValidation, "%d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

// Status is the monitor HTTP surface's JSON status document, served on
// GET /.
type Status struct {
	ManifestCount int            `json:"manifest_count"`
	QueueDepths   map[string]int `json:"queue_depths"`
	Interfaces    []IfaceStatus  `json:"interfaces"`
	CallCount     int            `json:"call_count"`
	RhizomeUsed   int64          `json:"rhizome_used"`
}

type IfaceStatus struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	State string `json:"state"`
}

// MarshalJSON uses jsoniter rather than encoding/json.
func (s *Status) MarshalJSON() ([]byte, error) { return jsoniter.Marshal((*statusAlias)(s)) }

type statusAlias Status
