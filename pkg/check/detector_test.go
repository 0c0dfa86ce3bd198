// SPDX-License-Identifier: Apache-2.0

package check

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, maxAttempts int) *Store {
	t.Helper()
	store, _, err := Open(filepath.Join(t.TempDir(), "state.json"), maxAttempts, 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWindowDecay(t *testing.T) {
	// A single step increase must be reported for exactly N runs and
	// then silence itself once the old baseline has been evicted.
	store := openTestStore(t, 4)
	d := &Detector{Store: store}
	key := MetricKey{Device: "SER1", Metric: "Raw_Read_Error_Rate"}

	for i := 0; i < 4; i++ {
		store.Record(key, 10)
	}

	expected := []bool{true, true, true, true, false}
	for run, want := range expected {
		detected, delta := d.Check(key, 11)
		require.Equal(t, want, detected, "run %d", run)
		if want {
			require.Equal(t, uint64(1), delta, "run %d", run)
		} else {
			require.Zero(t, delta, "run %d", run)
		}
	}
}

func TestColdStartNeverAlerts(t *testing.T) {
	store := openTestStore(t, 4)
	d := &Detector{Store: store}
	key := MetricKey{Device: "SER1", Metric: "Reallocated_Sector_Ct"}

	detected, delta := d.Check(key, 123456)
	require.False(t, detected)
	require.Zero(t, delta)
	// The first observation seeds the window.
	require.Equal(t, []uint64{123456}, store.Get(key))
}

func TestDecreaseNeverAlerts(t *testing.T) {
	store := openTestStore(t, 4)
	d := &Detector{Store: store}
	key := MetricKey{Device: "SER1", Metric: "media_errors"}

	// Window [5, 9]: a value above an intermediate entry but not above
	// the oldest must stay quiet, as must an outright decrease.
	store.Record(key, 5)
	store.Record(key, 9)

	detected, _ := d.Check(key, 5)
	require.False(t, detected)

	detected, _ = d.Check(key, 2)
	require.False(t, detected)
}

func TestEqualValueNeverAlerts(t *testing.T) {
	store := openTestStore(t, 4)
	d := &Detector{Store: store}
	key := MetricKey{Device: "SER1", Metric: "Spin_Retry_Count"}

	store.Record(key, 7)
	detected, _ := d.Check(key, 7)
	require.False(t, detected)
}

func TestShortWindowUsesOldestAvailable(t *testing.T) {
	// With fewer than N samples the baseline is simply the oldest one
	// recorded so far.
	store := openTestStore(t, 4)
	d := &Detector{Store: store}
	key := MetricKey{Device: "SER1", Metric: "CRC_Error_Count"}

	store.Record(key, 3)
	detected, delta := d.Check(key, 5)
	require.True(t, detected)
	require.Equal(t, uint64(2), delta)
}
