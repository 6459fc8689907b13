// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package pmem

import (
	"context"

	"github.com/datawire/dlib/dlog"
)

// Operator-visible alerts.
const (
	AlertHealthMismatch = "PMem health counters are not matching"
	AlertFreeSpace      = "Found free PMem space. Automatic volume extension is not supported."
)

// An Alerter raises non-fatal, operator-visible alerts.
type Alerter interface {
	Alert(ctx context.Context, msg string)
}

// LogAlerter raises alerts as warnings in the log.
type LogAlerter struct{}

func (LogAlerter) Alert(ctx context.Context, msg string) {
	dlog.Warn(dlog.WithField(ctx, "pmem.alert", true), msg)
}

func alerterOrDefault(a Alerter) Alerter {
	if a == nil {
		return LogAlerter{}
	}
	return a
}
