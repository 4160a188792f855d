// Package monitor implements the C5 orchestrator: the watcher registry and
// the public coordination RPC surface it exposes.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ttc-coordinator/internal/adapter"
	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/logger"
	"github.com/feral-file/ttc-coordinator/internal/providers/ethereum"
	"github.com/feral-file/ttc-coordinator/internal/watcher"
)

// pollTimeout bounds a single watcher poll's underlying RPC calls, per
// spec.md §5's "watcher's per-poll RPC has a 10-second timeout".
const pollTimeout = 10 * time.Second

// watcherEntry is nil-watcher while a Register call is still constructing
// the chain client and hasn't yet published the running watcher; this is
// the window domain.ErrContractAlreadyWatched exists to reject.
type watcherEntry struct {
	watcher *watcher.ContractWatcher
	chainID domain.Chain
	cancel  context.CancelFunc
}

// Registry is the C5's only process-wide mutable state (spec.md §9): a
// map from contract address to a running watcher task, protected by a
// read-write lock since reads (get_phase) are frequent and writes
// (register_contract) are rare.
type Registry struct {
	mu           sync.RWMutex
	watchers     map[common.Address]*watcherEntry
	client       adapter.EthClient
	pollInterval time.Duration
	events       chan<- watcher.Event
}

// NewRegistry builds an empty Registry. events is the bounded channel the
// Monitor drains; every watcher spawned by this registry forwards to it.
func NewRegistry(client adapter.EthClient, pollInterval time.Duration, events chan<- watcher.Event) *Registry {
	return &Registry{
		watchers:     make(map[common.Address]*watcherEntry),
		client:       client,
		pollInterval: pollInterval,
		events:       events,
	}
}

// Register spawns a watcher for address if none exists yet and returns its
// current phase; idempotent per spec.md §4.5's register_contract contract.
// A concurrent call that lands while the first registration is still
// constructing its watcher observes domain.ErrContractAlreadyWatched
// rather than blocking, so callers can retry.
func (r *Registry) Register(ctx context.Context, address common.Address, chainID domain.Chain) (domain.Phase, error) {
	r.mu.Lock()
	if entry, ok := r.watchers[address]; ok {
		r.mu.Unlock()
		if entry.watcher == nil {
			return 0, domain.ErrContractAlreadyWatched
		}
		return entry.watcher.Phase(), nil
	}
	r.watchers[address] = &watcherEntry{} // placeholder: spawning
	r.mu.Unlock()

	contract := ethereum.NewContract(address, r.client)
	w := watcher.NewContractWatcher(address, chainID, contract, r.events)
	watcherCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.watchers[address] = &watcherEntry{watcher: w, chainID: chainID, cancel: cancel}
	r.mu.Unlock()

	go r.run(watcherCtx, w)

	return w.Phase(), nil
}

// run ticks the watcher on pollInterval until ctx is cancelled, matching
// spec.md §4.4's "currentPhase() view-function polling at a bounded
// interval... as a correctness backstop".
func (r *Registry) run(ctx context.Context, w *watcher.ContractWatcher) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
			_, err := w.Poll(pollCtx)
			cancel()
			if err != nil {
				logger.Error(err)
			}
		}
	}
}

// Get returns the watcher registered for address, if any.
func (r *Registry) Get(address common.Address) (*watcher.ContractWatcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.watchers[address]
	if !ok || entry.watcher == nil {
		return nil, false
	}
	return entry.watcher, true
}

// Stop signals every running watcher to stop before its next poll, per
// spec.md §5's shutdown-cancellation rule.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.watchers {
		if entry.cancel != nil {
			entry.cancel()
		}
	}
}
