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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Warp-net/warpvote/config"
	"github.com/Warp-net/warpvote/core/engine"
	"github.com/Warp-net/warpvote/core/logging"
	"github.com/Warp-net/warpvote/core/metrics"
	"github.com/Warp-net/warpvote/core/session"
	"github.com/Warp-net/warpvote/database/local-store"
	"github.com/Warp-net/warpvote/security"
	"github.com/Warp-net/warpvote/server"
	log "github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs" // DO NOT remove
)

const shutdownTimeout = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic: %v", r)
		}
	}()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Print(cfg.Notice())
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		log.Errorf("client: %v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interruptChan)

	db, err := local_store.New(
		cfg.Database.Path,
		local_store.DefaultOptions().
			WithInMemory(cfg.Database.InMemory).
			WithIntervalGC(cfg.Database.GCInterval).
			WithSleepGC(cfg.Database.GCSleep).
			WithDiscardRatioGC(cfg.Database.GCDiscard),
	)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	if !cfg.Database.InMemory && db.IsFirstRun() {
		log.Infof("client: first run, creating database at %s", cfg.Database.Path)
	}
	if err := db.Run(); err != nil {
		return fmt.Errorf("failed to run db: %w", err)
	}
	defer db.Close()

	engineOpts := engine.DefaultOptions()
	engineOpts.ListenHost = cfg.Node.HostV4
	engineOpts.ListenPort = cfg.Node.Port
	engineOpts.Seed = cfg.Node.Seed
	engineOpts.MembersForConsensus = cfg.Node.ConsensusMembers
	if cfg.Node.Network != "" {
		psk, err := security.GeneratePSK(cfg.Node.Network, cfg.Version)
		if err != nil {
			return err
		}
		engineOpts.PSK = psk
		log.Infof("client: private network %s", cfg.Node.Network)
	}
	eng := engine.New(db, engineOpts)

	m := metrics.NewMetrics()
	sess := session.New(eng, session.DefaultOptions().
		WithRequestTimeout(cfg.Node.RequestTimeout).
		WithEventBuffer(cfg.Node.EventBuffer).
		WithMetrics(m),
	)

	srv := server.NewServer(sess, m, eng)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(cfg.Server.Addr())
	}()

	if err := autoConnect(cfg, sess); err != nil {
		log.Warnf("client: auto connect: %v", err)
	}

	log.Infoln("WARPVOTE STARTED")
	select {
	case <-interruptChan:
		log.Infoln("interrupted...")
	case err = <-serverErr:
		if err != nil {
			log.Errorf("client: server stopped: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if dErr := sess.Disconnect(ctx); dErr != nil {
		log.Warnf("client: disconnect: %v", dErr)
	}
	if sErr := srv.Shutdown(ctx); sErr != nil {
		log.Warnf("client: server shutdown: %v", sErr)
	}
	return err
}

func autoConnect(cfg config.Config, sess *session.Session) error {
	addr, err := cfg.Bootstrap()
	if errors.Is(err, config.ErrNoBootstrap) {
		return nil
	}
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := sess.Connect(ctx, addr.Addr, addr.PeerID, cfg.Node.Username); err != nil {
		return err
	}
	for _, topic := range cfg.Node.Topics {
		if err := sess.RegisterTopic(ctx, topic); err != nil {
			log.Warnf("client: register topic %s: %v", topic, err)
		}
	}
	return nil
}
