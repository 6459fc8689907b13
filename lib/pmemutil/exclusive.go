// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmemutil

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/datawire/dlib/dexec"
)

// ErrNotExclusive means the host has not confirmed that nothing else
// is using the namespaces.
var ErrNotExclusive = errors.New("the volume can only be destroyed under maintenance mode")

// An ExclusivityChecker confirms that this process has the
// namespaces to itself before anything destructive happens.
type ExclusivityChecker interface {
	CheckExclusive(ctx context.Context) error
}

// CommandExclusivity runs a command and requires that it print
// "Enabled".
type CommandExclusivity struct {
	Args []string
}

var _ ExclusivityChecker = CommandExclusivity{}

// NewCommandExclusivity splits a command line on whitespace.  An
// empty command line gives a nil checker.
func NewCommandExclusivity(cmdline string) ExclusivityChecker {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return nil
	}
	return CommandExclusivity{Args: args}
}

func (c CommandExclusivity) CheckExclusive(ctx context.Context) error {
	out, err := dexec.CommandContext(ctx, c.Args[0], c.Args[1:]...).Output()
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrNotExclusive, strings.Join(c.Args, " "), err)
	}
	if got := strings.TrimSpace(string(out)); got != "Enabled" {
		return fmt.Errorf("%w: %q said %q", ErrNotExclusive, strings.Join(c.Args, " "), got)
	}
	return nil
}
