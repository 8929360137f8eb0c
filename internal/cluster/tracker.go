// Package cluster implements the Cluster-health tracker (spec.md §4.4): it
// parses the client-piggybacked health blob, detects changes against the
// last stored value per ConnectionHash, and calls back into the pool/XA
// coordinators with the new healthy count exactly once per real change.
package cluster

import (
	"strings"
	"sync"
)

// Callback is invoked on a genuine health change for a ConnectionHash, with
// the freshly computed healthy-member count. Both the pool coordinator and
// the XA coordinator register one of these.
type Callback func(connHash string, healthyCount int)

type Tracker struct {
	mu        sync.Mutex
	lastBlob  map[string]string
	callbacks []Callback
}

func NewTracker() *Tracker {
	return &Tracker{lastBlob: make(map[string]string)}
}

// OnChange registers a callback invoked whenever HasHealthChanged finds a
// real change. Registration order is call order; callbacks run synchronously
// on the caller's goroutine so a single health update is fully applied
// before the RPC that carried it proceeds.
func (t *Tracker) OnChange(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// canonicalize matches transport.CanonicalizeZone's trim-only rule: the
// blob is compared for string equality after trimming, nothing more
// elaborate (spec.md §4.4 says "string equality after canonicalization").
func canonicalize(blob string) string {
	return strings.TrimSpace(blob)
}

// HasHealthChanged compares blob (after canonicalization) against the last
// stored value for connHash, atomically replacing it. It returns whether
// this call observed a real change, and if so fires every registered
// Callback with CountHealthy(blob). The callbacks run after the mutex is
// released, so callbacks fired by concurrent calls are not serialized.
func (t *Tracker) HasHealthChanged(connHash, blob string) bool {
	canon := canonicalize(blob)

	t.mu.Lock()
	prev, seen := t.lastBlob[connHash]
	changed := !seen || prev != canon
	if changed {
		t.lastBlob[connHash] = canon
	}
	cbs := append([]Callback(nil), t.callbacks...)
	t.mu.Unlock()

	if changed {
		healthy := CountHealthy(canon)
		for _, cb := range cbs {
			cb(connHash, healthy)
		}
	}
	return changed
}

// CountHealthy parses a blob of the form "endpoint=up|down[,...]" and
// returns the number of "up" members (spec.md §4.4/§6). Malformed entries
// (missing "=", unrecognized status) are skipped rather than rejected: the
// blob is client-reported best-effort telemetry, not a validated request
// field, so a single bad entry should not zero out the whole count.
func CountHealthy(blob string) int {
	blob = canonicalize(blob)
	if blob == "" {
		return 0
	}
	count := 0
	for _, pair := range strings.Split(blob, ",") {
		pair = strings.TrimSpace(pair)
		idx := strings.LastIndexByte(pair, '=')
		if idx < 0 {
			continue
		}
		status := strings.TrimSpace(pair[idx+1:])
		if status == "up" {
			count++
		}
	}
	return count
}
