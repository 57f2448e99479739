package levels

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/progression_engine/internal/app/domain/levels"
)

// settingsFile mirrors the on-disk level settings document.
type settingsFile struct {
	Levels  []thresholdSpec       `yaml:"levels" json:"levels"`
	Rewards map[string]bundleSpec `yaml:"rewards" json:"rewards"`
}

type thresholdSpec struct {
	Level int   `yaml:"level" json:"level"`
	MinXP int64 `yaml:"min_xp" json:"min_xp"`
}

type bundleSpec struct {
	Grants map[string]int64 `yaml:"grants" json:"grants"`
	Meta   map[string]any   `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// LoadSettings reads a level settings document. YAML and JSON are supported;
// a JSON document may be either the full settings object or a bare array of
// thresholds.
func LoadSettings(path string) (levels.Curve, levels.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return levels.Curve{}, levels.Table{}, fmt.Errorf("read level settings: %w", err)
	}

	var file settingsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return levels.Curve{}, levels.Table{}, fmt.Errorf("parse level settings: %w", err)
		}
	case ".json":
		file, err = parseJSONSettings(data)
		if err != nil {
			return levels.Curve{}, levels.Table{}, err
		}
	default:
		return levels.Curve{}, levels.Table{}, fmt.Errorf("level settings %s: unsupported extension", path)
	}
	return file.build()
}

// parseJSONSettings probes the document shape before the decode so both a
// bare thresholds array and the full settings object load, and rejects
// malformed reward metadata with a field-level error.
func parseJSONSettings(data []byte) (settingsFile, error) {
	if !gjson.ValidBytes(data) {
		return settingsFile{}, fmt.Errorf("parse level settings: invalid JSON")
	}
	root := gjson.ParseBytes(data)

	var file settingsFile
	switch {
	case root.IsArray():
		if err := json.Unmarshal(data, &file.Levels); err != nil {
			return settingsFile{}, fmt.Errorf("parse level thresholds: %w", err)
		}
	case root.IsObject():
		var metaErr error
		root.Get("rewards").ForEach(func(key, value gjson.Result) bool {
			if meta := value.Get("meta"); meta.Exists() && !meta.IsObject() {
				metaErr = fmt.Errorf("level settings: rewards[%s].meta must be an object", key.String())
				return false
			}
			return true
		})
		if metaErr != nil {
			return settingsFile{}, metaErr
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return settingsFile{}, fmt.Errorf("parse level settings: %w", err)
		}
	default:
		return settingsFile{}, fmt.Errorf("level settings: document must be an object or array")
	}
	return file, nil
}

func (f settingsFile) build() (levels.Curve, levels.Table, error) {
	thresholds := make([]levels.Threshold, 0, len(f.Levels))
	for _, spec := range f.Levels {
		thresholds = append(thresholds, levels.Threshold{Level: spec.Level, MinXP: spec.MinXP})
	}
	sort.Slice(thresholds, func(i, j int) bool { return thresholds[i].Level < thresholds[j].Level })

	curve := levels.Curve{Thresholds: thresholds}
	if err := curve.Validate(); err != nil {
		return levels.Curve{}, levels.Table{}, fmt.Errorf("level curve: %w", err)
	}

	table := levels.Table{Bundles: make(map[int]levels.RewardBundle, len(f.Rewards))}
	for key, bundle := range f.Rewards {
		level, err := strconv.Atoi(key)
		if err != nil || level <= 0 {
			return levels.Curve{}, levels.Table{}, fmt.Errorf("reward table: level key %q must be a positive integer", key)
		}
		grants := make(levels.RewardBundle, len(bundle.Grants))
		for kind, amount := range bundle.Grants {
			grants[kind] = amount
		}
		table.Bundles[level] = grants
	}
	if err := table.Validate(); err != nil {
		return levels.Curve{}, levels.Table{}, fmt.Errorf("reward table: %w", err)
	}
	return curve, table, nil
}
