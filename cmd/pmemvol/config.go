// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"git.lukeshu.com/pmemvol-ng/lib/pmemutil"
)

const (
	envPrefix     = "PMEMVOL"
	configName    = "pmemvol"
	configSysPath = "/etc/pmemvol"
)

type configLoader struct {
	vp         *viper.Viper
	flags      *pflag.FlagSet
	configFile string
}

// newConfigLoader registers a flag for every setting in flags.  Each
// setting may instead come from the environment or the config file;
// flags win over the environment, which wins over the file.
func newConfigLoader(flags *pflag.FlagSet) *configLoader {
	def := pmemutil.DefaultConfig()
	ret := &configLoader{
		vp:    viper.New(),
		flags: flags,
	}

	flags.StringVar(&ret.configFile, "config", "", "read settings from `config.yaml` (default: "+configSysPath+"/"+configName+".yaml if it exists)")
	flags.String("namespace-dir", def.NamespaceDir, "look for PMem namespaces in `dir`")
	flags.String("volume-dir", def.VolumeDir, "look for PMem volumes in `dir`")
	flags.String("helper", def.Helper, "format/mount/unmount volumes with the `program`")
	flags.Int64("start-align", def.StartAlign, "align the start of new extents to `bytes`")
	flags.Int64("end-align", def.EndAlign, "align the end of new extents to `bytes`")
	flags.Int64("min-size", def.MinSize, "don't create extents smaller than `bytes`")
	flags.String("exclusive-check", def.ExclusiveCheck, "before destroying anything, require that `command` print \"Enabled\"")
	return ret
}

func (l *configLoader) Load(ctx context.Context) (pmemutil.Config, error) {
	vp := l.vp
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()
	if err := vp.BindPFlags(l.flags); err != nil {
		return pmemutil.Config{}, err
	}

	if l.configFile != "" {
		vp.SetConfigFile(l.configFile)
	} else {
		vp.SetConfigName(configName)
		vp.SetConfigType("yaml")
		vp.AddConfigPath(configSysPath)
	}
	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configFile != "" || !errors.As(err, &notFound) {
			return pmemutil.Config{}, fmt.Errorf("config: %w", err)
		}
		dlog.Debugf(ctx, "no config file: %v", err)
	} else {
		dlog.Debugf(ctx, "read config file %q", vp.ConfigFileUsed())
	}

	var cfg pmemutil.Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return pmemutil.Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return pmemutil.Config{}, err
	}
	return cfg, nil
}
