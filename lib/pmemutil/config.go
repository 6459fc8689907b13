// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemutil

import (
	"fmt"
	"strings"

	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemgpt"
)

// Config is everything about the host that the lifecycle operations
// need to know.  The mapstructure tags are the configuration keys.
type Config struct {
	NamespaceDir string `mapstructure:"namespace-dir"`
	VolumeDir    string `mapstructure:"volume-dir"`
	Helper       string `mapstructure:"helper"`

	// Allocation constraints for new extents, in bytes.
	StartAlign int64 `mapstructure:"start-align"`
	EndAlign   int64 `mapstructure:"end-align"`
	MinSize    int64 `mapstructure:"min-size"`

	// ExclusiveCheck is a command line whose output must be
	// "Enabled" before destructive operations run.  Empty means no
	// check.
	ExclusiveCheck string `mapstructure:"exclusive-check"`
}

func DefaultConfig() Config {
	return Config{
		NamespaceDir: "/vmfs/devices/PMemNamespaces",
		VolumeDir:    "/vmfs/devices/PMemVolumes",
		Helper:       "/usr/lib/vmware/mkfsPmem/mkfsPmem",

		StartAlign: 1 << 20,
		EndAlign:   2 << 20,
		MinSize:    64 << 20,
	}
}

func (cfg Config) Validate() error {
	for name, val := range map[string]string{
		"namespace-dir": cfg.NamespaceDir,
		"volume-dir":    cfg.VolumeDir,
		"helper":        cfg.Helper,
	} {
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("config: %s must not be empty", name)
		}
	}
	for name, val := range map[string]int64{
		"start-align": cfg.StartAlign,
		"end-align":   cfg.EndAlign,
		"min-size":    cfg.MinSize,
	} {
		if val <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, val)
		}
	}
	return cfg.checkSectorMultiples(pmemdev.DefaultSectorSize)
}

func (cfg Config) checkSectorMultiples(sectorSize int64) error {
	for _, item := range []struct {
		name string
		val  int64
	}{
		{"start-align", cfg.StartAlign},
		{"end-align", cfg.EndAlign},
		{"min-size", cfg.MinSize},
	} {
		if item.val <= 0 || item.val%sectorSize != 0 {
			return fmt.Errorf("config: %s (%d) is not a positive multiple of the %d-byte sector size",
				item.name, item.val, sectorSize)
		}
	}
	return nil
}

// Constraint converts the allocation constraints to sectors.  It
// fails if they do not come out to a whole number of sectors.
func (cfg Config) Constraint(sectorSize int64) (pmemgpt.Constraint, error) {
	if err := cfg.checkSectorMultiples(sectorSize); err != nil {
		return pmemgpt.Constraint{}, err
	}
	return pmemgpt.ConstraintFromBytes(cfg.StartAlign, cfg.EndAlign, cfg.MinSize, sectorSize), nil
}
