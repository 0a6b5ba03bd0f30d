// Package config implements the persisted config.json record and the
// go-flags-bound runtime configuration (spec.md §6), grounded on
// flokiorg-tWallet/cmd/twallet/main.go's go-flags + INI-overlay parsing
// pattern and its config/params.go struct-tag style.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/flokiorg/depinterm/errs"
)

const (
	// MinPollInterval and MaxPollInterval bound pollInterval (ms).
	MinPollInterval = 1000
	MaxPollInterval = 60000

	// DefaultPollInterval is used when the field is absent or zero.
	DefaultPollInterval = 10000

	// Network is forced regardless of what a record may claim.
	Network = "xna"

	defaultConfigFilename = "config.json"
)

var timezoneOffsetPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

// Record is the persisted shape of config.json, written once by the setup
// wizard and read-only afterwards.
type Record struct {
	RPCURL       string `json:"rpc_url"`
	RPCUsername  string `json:"rpc_username,omitempty"`
	RPCPassword  string `json:"rpc_password,omitempty"`
	Token        string `json:"token"`
	PrivateKey   string `json:"privateKey"`
	Network      string `json:"network"`
	PollInterval int    `json:"pollInterval"`
	Timezone     string `json:"timezone"`
}

// Flags is the go-flags-bound runtime configuration: CLI/INI overrides
// layered on top of whatever Record supplies.
type Flags struct {
	ConfigPath string `short:"c" long:"config" description:"Path to config.json"`
	LogLevel   string `long:"loglevel" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" choice:"panic" default:"info" description:"Logging level"`
	Password   string `long:"password" description:"Unlock password, bypassing the interactive prompt (non-interactive test contexts only)"`
	Version    bool   `short:"v" description:"Print version"`
}

// Parse parses CLI flags, then overlays an INI-format config file at the
// resolved path if present, matching the teacher's two-stage parse.
func Parse(args []string) (*Flags, *flags.Parser, error) {
	var f Flags
	parser := flags.NewParser(&f, flags.Default|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, parser, err
	}

	path := f.ConfigPath
	if path == "" {
		path = defaultConfigFilename
	}
	if fileExists(path) {
		if err := flags.NewIniParser(parser).ParseFile(path); err != nil {
			return nil, parser, errs.NewConfigError("config file", err)
		}
	}

	return &f, parser, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load reads and validates config.json at path.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewConfigError("config.json", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errs.NewConfigError("config.json", err)
	}

	return Validate(&r)
}

// Save writes r to path as indented JSON, overwriting any existing file.
// This is the wizard's one-time write; the file is read-only afterwards.
func Save(path string, r *Record) error {
	r.Network = Network
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errs.NewConfigError("config.json", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errs.NewConfigError("config.json", err)
	}
	return nil
}

// Validate normalizes and checks r in place: rpc_url must parse as a URL,
// token is required, network is forced to "xna", pollInterval is
// clamped/defaulted, and timezone must be "UTC" or a signed decimal hour
// offset.
func Validate(r *Record) (*Record, error) {
	if strings.TrimSpace(r.RPCURL) == "" {
		return nil, errs.NewConfigError("rpc_url", fmt.Errorf("required"))
	}
	if _, err := url.ParseRequestURI(r.RPCURL); err != nil {
		return nil, errs.NewConfigError("rpc_url", err)
	}
	if strings.TrimSpace(r.Token) == "" {
		return nil, errs.NewConfigError("token", fmt.Errorf("required"))
	}

	r.Network = Network

	if r.PollInterval <= 0 {
		r.PollInterval = DefaultPollInterval
	}
	r.PollInterval = ClampPollInterval(r.PollInterval)

	if err := validateTimezone(r.Timezone); err != nil {
		return nil, errs.NewConfigError("timezone", err)
	}

	return r, nil
}

// ClampPollInterval enforces [MinPollInterval, MaxPollInterval].
func ClampPollInterval(ms int) int {
	switch {
	case ms < MinPollInterval:
		return MinPollInterval
	case ms > MaxPollInterval:
		return MaxPollInterval
	default:
		return ms
	}
}

func validateTimezone(tz string) error {
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return nil
	}
	if !timezoneOffsetPattern.MatchString(tz) {
		return fmt.Errorf("must be \"UTC\" or a signed decimal hour offset, got %q", tz)
	}
	if _, err := strconv.ParseFloat(strings.TrimPrefix(tz, "+"), 64); err != nil {
		return fmt.Errorf("invalid offset %q: %w", tz, err)
	}
	return nil
}

// RPCEndpoint appends "/rpc" to rpcURL if not already present.
func RPCEndpoint(rpcURL string) string {
	if strings.HasSuffix(rpcURL, "/rpc") {
		return rpcURL
	}
	return strings.TrimSuffix(rpcURL, "/") + "/rpc"
}
