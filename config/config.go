/*

Warpvote - Decentralized Content Validation
Copyright (C) 2025 Vadim Filin, https://github.com/Warp-net,
<github.com.mecdy@passmail.net>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.

Warpvote is provided “as is” without warranty of any kind, either expressed or implied.
Use at your own risk. The maintainers shall not be liable for any damages or data loss
resulting from the use or misuse of this software.
*/

// Copyright 2025 Vadim Filin
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	root "github.com/Warp-net/warpvote"
	"github.com/Warp-net/warpvote/core/warpnet"
	"github.com/Warp-net/warpvote/domain"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	TextFormat = "text"
	JSONFormat = "json"
)

const noticeTemplate = " %s version %s. Copyright (C) <%s> <%s>. This program comes with ABSOLUTELY NO WARRANTY; This is free software, and you are welcome to redistribute it under certain conditions.\n\n\n"

const ErrNoBootstrap = warpnet.WarpError("config: bootstrap peer is not configured")

type Config struct {
	Version  *semver.Version
	Node     Node
	Database Database
	Server   Server
	Logging  Logging
}

type Node struct {
	BootstrapAddress string
	BootstrapID      string
	Username         string
	Seed             string
	Network          string
	HostV4           string
	Port             string
	RequestTimeout   time.Duration
	EventBuffer      int
	ConsensusMembers int
	Topics           []string
}

type Database struct {
	Path       string
	InMemory   bool
	GCInterval time.Duration
	GCSleep    time.Duration
	GCDiscard  float64
}

type Server struct {
	Host string
	Port string
}

func (s Server) Addr() string {
	return s.Host + ":" + s.Port
}

type Logging struct {
	Level  string
	Format string
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(warpnet.WarpnetName, pflag.ContinueOnError)
	fs.String("database.dir", "storage", "Database directory name, absolute or relative to the app data dir")
	fs.Bool("database.inmemory", false, "Keep the database in memory")
	fs.Duration("database.gc.interval", time.Hour, "Value log garbage collection interval")
	fs.Duration("database.gc.sleep", time.Second, "Pause between value log rewrites within one collection")
	fs.Float64("database.gc.discard", 0.5, "Discard ratio a value log file needs to be rewritten")
	fs.String("server.host", "localhost", "Local API host")
	fs.String("server.port", "4002", "Local API port")
	fs.String("node.host.v4", "0.0.0.0", "Node host IPv4")
	fs.String("node.port", "0", "Node port, 0 picks a free one")
	fs.String("node.seed", "", "Node seed for deterministic ID generation")
	fs.String("node.network", "", "Private network name, empty joins the public network")
	fs.String("node.bootstrap.address", "", "Bootstrap peer multiaddr, connect on start if set")
	fs.String("node.bootstrap.id", "", "Bootstrap peer id, if not embedded in the address")
	fs.String("node.username", "", "Display name used when connecting")
	fs.Duration("node.request.timeout", 30*time.Second, "Per request timeout, 0 disables it")
	fs.Int("node.event.buffer", 256, "Pending events kept for the listener")
	fs.Int("node.consensus.members", 5, "Voters needed to start a votation")
	fs.StringSlice("topics", nil, "Topics to register after connecting, comma separated")
	fs.String("logging.level", "info", "Logging level")
	fs.String("logging.format", TextFormat, "Logging format: text or json")
	return fs
}

// Load reads flags from args and lets environment variables
// (dots replaced with underscores) override them.
func Load(args []string) (Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, err
	}

	version, err := semver.NewVersion(root.GetVersion().String())
	if err != nil {
		return Config{}, fmt.Errorf("config: version: %w", err)
	}

	cfg := Config{
		Version: version,
		Node: Node{
			BootstrapAddress: strings.TrimSpace(v.GetString("node.bootstrap.address")),
			BootstrapID:      strings.TrimSpace(v.GetString("node.bootstrap.id")),
			Username:         strings.TrimSpace(v.GetString("node.username")),
			Seed:             strings.TrimSpace(v.GetString("node.seed")),
			Network:          strings.TrimSpace(v.GetString("node.network")),
			HostV4:           v.GetString("node.host.v4"),
			Port:             v.GetString("node.port"),
			RequestTimeout:   v.GetDuration("node.request.timeout"),
			EventBuffer:      v.GetInt("node.event.buffer"),
			ConsensusMembers: v.GetInt("node.consensus.members"),
			Topics:           cleanTopics(v.GetStringSlice("topics")),
		},
		Database: Database{
			InMemory:   v.GetBool("database.inmemory"),
			GCInterval: v.GetDuration("database.gc.interval"),
			GCSleep:    v.GetDuration("database.gc.sleep"),
			GCDiscard:  v.GetFloat64("database.gc.discard"),
		},
		Server: Server{
			Host: v.GetString("server.host"),
			Port: v.GetString("server.port"),
		},
		Logging: Logging{
			Level:  strings.TrimSpace(v.GetString("logging.level")),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("logging.format"))),
		},
	}

	if cfg.Node.RequestTimeout < 0 {
		return Config{}, fmt.Errorf("config: negative request timeout: %s", cfg.Node.RequestTimeout)
	}
	if cfg.Node.EventBuffer <= 0 {
		return Config{}, fmt.Errorf("config: event buffer must be positive: %d", cfg.Node.EventBuffer)
	}
	if cfg.Node.ConsensusMembers <= 0 {
		return Config{}, fmt.Errorf("config: consensus members must be positive: %d", cfg.Node.ConsensusMembers)
	}
	if cfg.Database.GCInterval <= 0 || cfg.Database.GCSleep <= 0 {
		return Config{}, fmt.Errorf("config: database gc timings must be positive")
	}
	if cfg.Database.GCDiscard <= 0 || cfg.Database.GCDiscard >= 1 {
		return Config{}, fmt.Errorf("config: database gc discard ratio out of (0,1): %v", cfg.Database.GCDiscard)
	}
	switch cfg.Logging.Format {
	case TextFormat, JSONFormat:
	default:
		return Config{}, fmt.Errorf("config: unknown logging format: %s", cfg.Logging.Format)
	}

	if !cfg.Database.InMemory {
		dir := strings.TrimSpace(v.GetString("database.dir"))
		if filepath.IsAbs(dir) {
			cfg.Database.Path = dir
		} else {
			appPath, err := getAppPath()
			if err != nil {
				return Config{}, err
			}
			cfg.Database.Path = filepath.Join(appPath, dir)
		}
	}
	return cfg, nil
}

func cleanTopics(raw []string) []string {
	topics := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// Bootstrap returns the configured bootstrap peer.
func (c Config) Bootstrap() (domain.PeerAddress, error) {
	if c.Node.BootstrapAddress == "" {
		return domain.PeerAddress{}, ErrNoBootstrap
	}
	id := c.Node.BootstrapID
	if id == "" {
		id = warpnet.EmbeddedPeerID(c.Node.BootstrapAddress)
	}
	return warpnet.ParsePeerAddress(c.Node.BootstrapAddress, id)
}

func (c Config) Notice() string {
	return fmt.Sprintf(noticeTemplate, strings.ToUpper(warpnet.WarpnetName), c.Version, "2025", "Vadim Filin")
}

func getAppPath() (string, error) {
	var appPath string

	switch runtime.GOOS {
	case "windows":
		// %LOCALAPPDATA% Windows
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			return "", warpnet.WarpError("config: failed to get path to LOCALAPPDATA")
		}
		appPath = filepath.Join(appData, "warpvote")

	case "darwin", "linux", "android":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		appPath = filepath.Join(homeDir, ".warpvote")

	default:
		return "", fmt.Errorf("config: unsupported OS: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(appPath, 0750); err != nil {
		return "", err
	}
	return appPath, nil
}
