// SPDX-License-Identifier: Apache-2.0

package check

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrAlreadyRunning is returned when another check instance holds the
// state-file lock.
var ErrAlreadyRunning = errors.New("another check instance is already running")

// stateVersion tags the on-disk format. Loading ignores unknown fields
// so the format can grow without breaking older state.
const stateVersion = 1

// persistedState is the durable envelope for all history windows.
type persistedState struct {
	Version int                             `json:"version"`
	Devices map[DeviceIdentity]*deviceState `json:"devices"`
}

type deviceState struct {
	LastSeen time.Time           `json:"last_seen"`
	Metrics  map[string][]uint64 `json:"metrics"`
}

// Store owns the persisted per-device, per-metric history for the
// duration of one run: Open (lock + load), Get/Record in memory, Save
// (atomic replace), Close (unlock). Exactly one process may hold the
// store open at a time.
type Store struct {
	path        string
	maxAttempts int
	retention   time.Duration
	now         func() time.Time
	state       persistedState
	locked      bool
}

// StatePath derives the state-file path for a set of check options.
// Like the window size or the metric exclusion list, options that
// change comparison semantics get their own state file so differently
// configured checks on one host never share windows.
func StatePath(dir string, relevantOpts ...string) string {
	h := sha1.Sum([]byte(strings.Join(relevantOpts, "\x00")))
	return filepath.Join(dir, ".check_smart_"+hex.EncodeToString(h[:]))
}

// Open acquires the exclusive lock for the state file and loads the
// previous snapshot. A missing or corrupt file is a cold start, not an
// error. firstRun reports whether no usable previous state existed.
func Open(path string, maxAttempts int, retention time.Duration) (s *Store, firstRun bool, err error) {
	if maxAttempts < 1 {
		return nil, false, fmt.Errorf("max attempts must be at least 1, got %d", maxAttempts)
	}
	s = &Store{
		path:        path,
		maxAttempts: maxAttempts,
		retention:   retention,
		now:         time.Now,
		state: persistedState{
			Version: stateVersion,
			Devices: map[DeviceIdentity]*deviceState{},
		},
	}
	if err := s.lock(); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, true, nil
	case err != nil:
		s.unlock()
		return nil, false, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	var loaded persistedState
	if err := json.Unmarshal(data, &loaded); err != nil || loaded.Devices == nil {
		log.Warn().Str("state_file", path).Err(err).
			Msg("state file unreadable, starting with empty history")
		return s, true, nil
	}
	s.state.Devices = loaded.Devices
	return s, false, nil
}

// Get returns a copy of the stored window for the key, oldest value
// first, or an empty window if the key has never been seen.
func (s *Store) Get(key MetricKey) []uint64 {
	dev, ok := s.state.Devices[key.Device]
	if !ok {
		return nil
	}
	window := dev.Metrics[key.Metric]
	out := make([]uint64, len(window))
	copy(out, window)
	return out
}

// Record appends the observed value to the key's window, evicting the
// oldest entry once the window holds maxAttempts values. Call exactly
// once per metric per run, after the increment decision.
func (s *Store) Record(key MetricKey, value uint64) {
	dev, ok := s.state.Devices[key.Device]
	if !ok {
		dev = &deviceState{Metrics: map[string][]uint64{}}
		s.state.Devices[key.Device] = dev
	}
	dev.LastSeen = s.now()
	window := append(dev.Metrics[key.Metric], value)
	if len(window) > s.maxAttempts {
		window = window[len(window)-s.maxAttempts:]
	}
	dev.Metrics[key.Metric] = window
}

// Forget removes a single metric's history. Used when a metric joins
// the exclusion list so a later re-inclusion starts from a clean
// baseline instead of stale pre-exclusion values.
func (s *Store) Forget(key MetricKey) {
	if dev, ok := s.state.Devices[key.Device]; ok {
		delete(dev.Metrics, key.Metric)
	}
}

// Devices returns the identities present in the store, sorted.
func (s *Store) Devices() []DeviceIdentity {
	ids := make([]DeviceIdentity, 0, len(s.state.Devices))
	for id := range s.state.Devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Save writes the state back, replacing the previous snapshot
// atomically: a crash mid-write leaves the old file intact for the
// next run. Devices absent from the current run keep their history
// unless the optional retention period has elapsed since they were
// last seen.
func (s *Store) Save() error {
	s.prune()
	data, err := json.Marshal(&s.state)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Close releases the state-file lock. Safe to call more than once.
func (s *Store) Close() error {
	s.unlock()
	return nil
}

func (s *Store) prune() {
	if s.retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)
	for id, dev := range s.state.Devices {
		if dev.LastSeen.Before(cutoff) {
			log.Info().Str("device", string(id)).Time("last_seen", dev.LastSeen).
				Msg("pruning history for device not seen within retention period")
			delete(s.state.Devices, id)
		}
	}
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}

// lock takes a pidfile-style exclusive lock next to the state file.
// A lock held by a live process means a second invocation overlapped
// the first; it fails fast instead of corrupting state. A lock left by
// a dead process is taken over.
func (s *Store) lock() error {
	path := s.lockPath()
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			f.Close()
			s.locked = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create lock file %s: %w", path, err)
		}
		if pidAlive(path) {
			return fmt.Errorf("%w (lock file %s)", ErrAlreadyRunning, path)
		}
		log.Warn().Str("lock_file", path).Msg("removing stale lock file")
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale lock file %s: %w", path, err)
		}
	}
	return fmt.Errorf("%w (lock file %s)", ErrAlreadyRunning, path)
}

func (s *Store) unlock() {
	if !s.locked {
		return
	}
	if err := os.Remove(s.lockPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("lock_file", s.lockPath()).Msg("failed to remove lock file")
	}
	s.locked = false
}

func pidAlive(lockPath string) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
