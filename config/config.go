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

// Package config loads the runtime's toml configuration file into the
// structs its components are built from.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hoyleeson/corert/pkg/logger"
)

// ReactorConfig sizes the reactor's initial hook table.
type ReactorConfig struct {
	InitialHooks int `toml:"initial-hooks"`
}

// ExecutorConfig sizes the default workqueue's concurrency budget.
type ExecutorConfig struct {
	MaxActive   int           `toml:"max-active"`
	IdleTimeout time.Duration `toml:"idle-timeout"`
}

// SlabConfig configures the size-classed buffer pool.
type SlabConfig struct {
	InitPerClass int `toml:"init-per-class"`
}

// FragConfig configures the fragmenter/reassembler.
type FragConfig struct {
	ChunkSize int `toml:"chunk-size"`
}

// IOWaitConfig configures the rendezvous table's default deadline.
type IOWaitConfig struct {
	Deadline time.Duration `toml:"deadline"`
}

// DebugConfig configures the HTTP introspection server.
type DebugConfig struct {
	Listen string `toml:"listen"`
}

// Config is the top-level runtime configuration, decoded from a single
// toml file.
type Config struct {
	Logger   logger.Config  `toml:"logger"`
	Reactor  ReactorConfig  `toml:"reactor"`
	Executor ExecutorConfig `toml:"executor"`
	Slab     SlabConfig     `toml:"slab"`
	Frag     FragConfig     `toml:"frag"`
	IOWait   IOWaitConfig   `toml:"iowait"`
	Debug    DebugConfig    `toml:"debug"`
}

// Default returns the configuration corertd starts with if no file is
// supplied or a key is omitted.
func Default() Config {
	return Config{
		Logger:   logger.Config{Level: "info"},
		Reactor:  ReactorConfig{InitialHooks: 16},
		Executor: ExecutorConfig{MaxActive: 32, IdleTimeout: 30 * time.Second},
		Slab:     SlabConfig{InitPerClass: 64},
		Frag:     FragConfig{ChunkSize: 1400},
		IOWait:   IOWaitConfig{Deadline: 5 * time.Second},
		Debug:    DebugConfig{Listen: "127.0.0.1:6060"},
	}
}

// Load reads path as toml, overlaying it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
