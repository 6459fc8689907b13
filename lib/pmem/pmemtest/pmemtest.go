// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pmemtest provides fixtures for testing code that works on
// PMem namespaces without having any: namespaces backed by sparse
// files, a recording kernel gateway, and a fault-injecting file.
package pmemtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/pmemvol-ng/lib/diskio"
	"git.lukeshu.com/pmemvol-ng/lib/pmem/pmemdev"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// NewNamespace creates a sparse file of the given size named like a
// namespace device node in dir, and returns it.
func NewNamespace(t testing.TB, dir string, size int64) pmemdev.Namespace {
	t.Helper()
	id := uuid.New()
	path := filepath.Join(dir, pmemdev.NamespacePrefix+id.String())
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, fh.Truncate(size))
	require.NoError(t, fh.Close())
	return pmemdev.Namespace{
		Path: path,
		UUID: id,
	}
}

// OpenNamespace opens ns and closes it when the test ends.
func OpenNamespace(t testing.TB, ns pmemdev.Namespace) *pmemdev.Device {
	t.Helper()
	dev, err := ns.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dev.Close()
	})
	return dev
}

// Call is one request made to a Gateway.
type Call struct {
	Op     string
	Path   string
	Start  uint64
	Length uint64
}

func (c Call) String() string {
	if c.Op == "AddVolumeExtent" {
		return fmt.Sprintf("%s(%s, %d, %d)", c.Op, filepath.Base(c.Path), c.Start, c.Length)
	}
	return fmt.Sprintf("%s(%s)", c.Op, filepath.Base(c.Path))
}

// Gateway is a pmemdev.Gateway that records requests instead of
// making them.  Health counters default to version 1 with a zero
// data-loss counter.
type Gateway struct {
	mu     sync.Mutex
	calls  []Call
	health map[string]pmemdev.HealthStats
	fail   map[string]error
}

var _ pmemdev.Gateway = (*Gateway)(nil)

// SetHealth sets the health counters reported for path.
func (g *Gateway) SetHealth(path string, stats pmemdev.HealthStats) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.health == nil {
		g.health = make(map[string]pmemdev.HealthStats)
	}
	g.health[path] = stats
}

// Fail makes every later request of the given op fail with err.
func (g *Gateway) Fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail == nil {
		g.fail = make(map[string]error)
	}
	g.fail[op] = err
}

// Calls returns the requests made so far.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallsTo returns the requests of the given op made so far.
func (g *Gateway) CallsTo(op string) []Call {
	var ret []Call
	for _, call := range g.Calls() {
		if call.Op == op {
			ret = append(ret, call)
		}
	}
	return ret
}

func (g *Gateway) record(call Call) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	if err := g.fail[call.Op]; err != nil {
		return &pmemdev.DeviceError{Op: call.Op, Path: call.Path, Err: err}
	}
	return nil
}

func (g *Gateway) AddVolumeExtent(_ context.Context, path string, start, length uint64) error {
	return g.record(Call{Op: "AddVolumeExtent", Path: path, Start: start, Length: length})
}

func (g *Gateway) HealthCounters(_ context.Context, path string) (pmemdev.HealthStats, error) {
	if err := g.record(Call{Op: "HealthCounters", Path: path}); err != nil {
		return pmemdev.HealthStats{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if stats, ok := g.health[path]; ok {
		return stats, nil
	}
	return pmemdev.HealthStats{Version: 1}, nil
}

func (g *Gateway) RereadPartitions(_ context.Context, path string) error {
	return g.record(Call{Op: "RereadPartitions", Path: path})
}

// Prober is a pmemgpt.Prober that reports the filesystems it is told
// about.
type Prober map[string]string

func (p Prober) Probe(_ context.Context, path string) (string, error) {
	return p[path], nil
}

// ErrCrash is returned by a FaultyFile once it has "crashed".
var ErrCrash = errors.New("simulated crash")

// FaultyFile passes through to File until WritesLeft writes have
// happened; every write after that fails with ErrCrash, as does
// every Sync.
type FaultyFile struct {
	diskio.File[int64]
	WritesLeft int
}

func (f *FaultyFile) WriteAt(dat []byte, off int64) (int, error) {
	if f.WritesLeft <= 0 {
		return 0, ErrCrash
	}
	f.WritesLeft--
	return f.File.WriteAt(dat, off)
}

func (f *FaultyFile) Sync() error {
	if f.WritesLeft <= 0 {
		return ErrCrash
	}
	return f.File.Sync()
}
