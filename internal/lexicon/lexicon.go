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

// Package lexicon handles the scoring-lexicon directory that rides
// along with an archive. Only the directory-sync contract lives
// here; lexicon content is interpreted elsewhere.
package lexicon

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Suffix marks lexicon files within the lexicons directory.
const Suffix = ".lex.txt"

// NameFromFilename strips the lexicon suffix from a file name.
func NameFromFilename(filename string) string {
	return strings.TrimSuffix(filename, Suffix)
}

// Names lists the lexicons in dir, sorted. A missing directory is
// not an error; it yields no names.
func Names(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read lexicon directory %q", dir)
	}
	var names []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), Suffix) {
			continue
		}
		names = append(names, NameFromFilename(f.Name()))
	}
	sort.Strings(names)
	return names, nil
}

// Merge copies lexicons from srcDir into dstDir by file name. A name
// already present in dstDir is a clash: the existing file is kept and
// the incoming one is not copied. Returns the new and clashed names,
// both sorted.
func Merge(dstDir, srcDir string) (newNames, clashed []string, err error) {
	existing, err := Names(dstDir)
	if err != nil {
		return nil, nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[strings.ToLower(n)] = true
	}

	incoming, err := Names(srcDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(dstDir, 0700); err != nil {
		return nil, nil, errors.Wrapf(err, "unable to create lexicon directory %q", dstDir)
	}
	for _, n := range incoming {
		if have[strings.ToLower(n)] {
			clashed = append(clashed, n)
			continue
		}
		filename := n + Suffix
		data, err := os.ReadFile(filepath.Join(srcDir, filename))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "unable to read lexicon %q", n)
		}
		if err := os.WriteFile(filepath.Join(dstDir, filename), data, 0600); err != nil {
			return nil, nil, errors.Wrapf(err, "unable to copy lexicon %q", n)
		}
		newNames = append(newNames, n)
	}
	sort.Strings(newNames)
	sort.Strings(clashed)
	return newNames, clashed, nil
}

// Seed copies the configured default lexicons into dir, skipping any
// that already exist there. seeds maps lexicon name to content.
func Seed(dir string, seeds map[string]string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "unable to create lexicon directory %q", dir)
	}
	for name, content := range seeds {
		path := filepath.Join(dir, name+Suffix)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			return errors.Wrapf(err, "unable to seed lexicon %q", name)
		}
	}
	return nil
}
