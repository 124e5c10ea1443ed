// Copyright 2026 The ePADD Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config reads the archive configuration file. Collection
// identity and the default lexicon set are configuration, not code.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/harvard-lts/epadd/internal/archive"
)

// Owner identifies the collection owner; their addresses seed the
// address book's self contact.
type Owner struct {
	Name      string   `yaml:"name"`
	Addresses []string `yaml:"addresses"`
}

// Config is the on-disk archive configuration.
type Config struct {
	Title           string `yaml:"title"`
	Owner           Owner  `yaml:"owner"`
	BaseAccessionID string `yaml:"baseAccessionId"`

	// Lexicons maps lexicon name to its term content, seeded into
	// new archives.
	Lexicons map[string]string `yaml:"lexicons"`
}

// Load reads the configuration at path. A missing file yields the
// zero configuration, not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read config %q", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "unable to parse config %q", path)
	}
	return &cfg, nil
}

// ArchiveConfig translates the file configuration into the archive's
// open-time inputs.
func (c *Config) ArchiveConfig() archive.Config {
	return archive.Config{
		Title:           c.Title,
		OwnerName:       c.Owner.Name,
		OwnerAddresses:  c.Owner.Addresses,
		LexiconSeeds:    c.Lexicons,
		BaseAccessionID: c.BaseAccessionID,
	}
}
