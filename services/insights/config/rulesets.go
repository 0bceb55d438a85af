// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pariosur/retronet-sub001/services/insights/categorizer"
)

// LoadRuleSets reads and compiles every rule-set YAML file in dir.
//
// Description:
//
//	Files ending in .yaml or .yml are parsed as categorizer.RuleSetConfig
//	and compiled. Results are sorted by rule-set name for deterministic
//	iteration. A file that fails to parse, validate, or compile fails
//	the whole load; partial rule tables are worse than stale ones.
//
// Outputs:
//
//	[]*categorizer.RuleSet - Compiled rule sets, sorted by name.
//	error - Non-nil on read, parse, or compile failure.
func LoadRuleSets(dir string) ([]*categorizer.RuleSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rule-set dir %s: %w", dir, err)
	}

	v := newValidator()
	var sets []*categorizer.RuleSet
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rs, err := loadRuleSetFile(path, v)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}

	sort.Slice(sets, func(i, j int) bool { return sets[i].Name() < sets[j].Name() })
	return sets, nil
}

func loadRuleSetFile(path string, v interface{ Struct(any) error }) (*categorizer.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set %s: %w", path, err)
	}

	var cfg categorizer.RuleSetConfig
	if err := unmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rule set %s: %w", path, err)
	}
	// Most rule files omit weights; fill the shipped defaults before
	// validation so the gt/lte tags check real values.
	if cfg.Weights == (categorizer.Weights{}) {
		cfg.Weights = categorizer.DefaultWeights()
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate rule set %s: %w", path, err)
	}

	rs, err := categorizer.Compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("compile rule set %s: %w", path, err)
	}
	return rs, nil
}

// unmarshalStrict rejects unknown fields so typoed rule keys fail loudly
// instead of silently dropping a category.
func unmarshalStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
