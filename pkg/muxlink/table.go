package muxlink

import (
	"sync"

	"github.com/pkg/errors"
)

// channelTable correlates this side's channel ids with the ids the peer
// uses for the same channels. Outgoing frames are tagged with the local id
// and incoming frames carry the remote id, so lookups must be cheap in both
// directions; the table keeps a forward and an inverse map in sync.
//
// Locally-opened channels sit in the pending list until the first data
// frame with an unknown sender id arrives; the peer answers open requests
// in order, so that frame belongs to the oldest pending channel.
type channelTable struct {
	mu      sync.Mutex
	nextID  uint64
	fwd     map[uint64]uint64 // local -> remote
	inv     map[uint64]uint64 // remote -> local
	pending []uint64          // local ids awaiting correlation, oldest first
}

func newChannelTable() *channelTable {
	return &channelTable{
		fwd: make(map[uint64]uint64),
		inv: make(map[uint64]uint64),
	}
}

// allocate returns a fresh local id, starting from 1.
// Ids are never reused for the life of the connection.
func (ct *channelTable) allocate() uint64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.nextID++
	return ct.nextID
}

// correlate records local <-> remote.
// It is an error if either id is already part of a correlation.
func (ct *channelTable) correlate(local, remote uint64) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if r, exists := ct.fwd[local]; exists {
		return errors.Errorf("local id %d already correlated with remote id %d", local, r)
	}
	if l, exists := ct.inv[remote]; exists {
		return errors.Errorf("remote id %d already correlated with local id %d", remote, l)
	}
	ct.fwd[local] = remote
	ct.inv[remote] = local
	return nil
}

// lookupInverse returns the local id correlated with a peer-assigned id.
func (ct *channelTable) lookupInverse(remote uint64) (uint64, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	local, ok := ct.inv[remote]
	return local, ok
}

// lookupForward returns the peer's id for a local id.
func (ct *channelTable) lookupForward(local uint64) (uint64, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	remote, ok := ct.fwd[local]
	return remote, ok
}

// pushPending appends local to the pending list. The caller must emit the
// matching open request in the same order it pushes; both happen under the
// connection's write lock.
func (ct *channelTable) pushPending(local uint64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pending = append(ct.pending, local)
}

// removePending deletes local from the pending list.
// It reports whether the id was pending.
func (ct *channelTable) removePending(local uint64) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	for i, id := range ct.pending {
		if id == local {
			ct.pending = append(ct.pending[:i], ct.pending[i+1:]...)
			return true
		}
	}
	return false
}

// adoptPending pops the oldest pending local id and correlates it with
// remote. ok is false if nothing is pending or remote is already taken.
func (ct *channelTable) adoptPending(remote uint64) (local uint64, ok bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if len(ct.pending) == 0 {
		return 0, false
	}
	if _, exists := ct.inv[remote]; exists {
		return 0, false
	}
	local = ct.pending[0]
	ct.pending = ct.pending[1:]
	ct.fwd[local] = remote
	ct.inv[remote] = local
	return local, true
}

// drop removes the correlation for local in both directions.
func (ct *channelTable) drop(local uint64) (remote uint64, ok bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	remote, ok = ct.fwd[local]
	if !ok {
		return 0, false
	}
	delete(ct.fwd, local)
	delete(ct.inv, remote)
	return remote, true
}

// counts reports the number of correlated and pending channels.
func (ct *channelTable) counts() (correlated, pending int) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.fwd), len(ct.pending)
}
