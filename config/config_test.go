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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corertd.toml")
	contents := `
[executor]
max-active = 8

[debug]
listen = "0.0.0.0:9090"
`
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 8, cfg.Executor.MaxActive)
	assert.Equal(t, "0.0.0.0:9090", cfg.Debug.Listen)
	// untouched sections keep their defaults
	assert.Equal(t, Default().Slab, cfg.Slab)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/corertd.toml")
	assert.Error(t, err)
}
