// Licensed to LinDB under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. LinDB licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Command corertd wires the reactor, executor, timer service, and debug
// server into a single running process.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoyleeson/corert/config"
	"github.com/hoyleeson/corert/internal/concurrent"
	"github.com/hoyleeson/corert/internal/debugsrv"
	"github.com/hoyleeson/corert/internal/linmetric"
	"github.com/hoyleeson/corert/internal/reactor"
	"github.com/hoyleeson/corert/internal/timer"
	"github.com/hoyleeson/corert/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "corertd",
		Short: "corertd runs the reactor/executor/timer I/O substrate",
		RunE:  run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a corertd.toml config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.InitLogger(cfg.Logger)
	log := logger.GetLogger("corertd", "main")

	scope := linmetric.NewScope("corert")

	r, err := reactor.New(scope.Scope("reactor"))
	if err != nil {
		return fmt.Errorf("start reactor: %w", err)
	}
	go r.Run()

	timers, err := timer.NewService(r)
	if err != nil {
		return fmt.Errorf("start timer service: %w", err)
	}

	pool := concurrent.NewPool("default", cfg.Executor.MaxActive, cfg.Executor.IdleTimeout, scope.Scope("pool"))
	wq := concurrent.NewWorkqueue("default", pool, cfg.Executor.MaxActive, timers, scope.Scope("workqueue"))

	dbg := debugsrv.New(cfg.Debug.Listen)
	dbg.RegisterReactor(r)
	dbg.RegisterWorkqueue("default", wq)
	dbg.Start()

	log.Info("corertd started", logger.String("debug-listen", cfg.Debug.Listen))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("corertd shutting down")
	_ = dbg.Stop(5 * time.Second)
	timers.Stop()
	wq.Drain()
	pool.Stop()
	r.Stop()
	return nil
}
