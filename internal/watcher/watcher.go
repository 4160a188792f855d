// Package watcher implements the per-contract chain-lifecycle state
// machine (Deposit -> Rank -> Trade -> Withdraw -> Closed) that the
// monitor's watcher registry drives on a ticker.
package watcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/providers/ethereum"
)

// Kind distinguishes the two events a watcher can emit.
type Kind int

const (
	// KindPhaseChange fires on every phase transition, including
	// intervening ones a poll discovers all at once.
	KindPhaseChange Kind = iota
	// KindProofRequested fires once, on entering Trade.
	KindProofRequested
)

// Event is a single notification from a watcher to the orchestrator.
type Event struct {
	Kind    Kind
	Address common.Address
	ChainID domain.Chain
	From    domain.Phase // meaningful only for KindPhaseChange
	To      domain.Phase // meaningful only for KindPhaseChange
	Block   uint64
}

// ContractWatcher tracks a single deployed TTC contract through its
// lifecycle. It has no goroutine of its own; the registry that owns it
// calls Poll on a ticker, matching the cooperative, task-based concurrency
// model the rest of the system uses instead of one OS thread per watcher.
type ContractWatcher struct {
	address  common.Address
	chainID  domain.Chain
	contract ethereum.Contract
	events   chan<- Event

	mu                  sync.Mutex
	phase               domain.Phase
	tradeInitiatedBlock uint64
	deadlineBlock       uint64
}

// NewContractWatcher starts tracking a contract from Deposit. events is a
// bounded channel owned by the caller; Poll blocks on it rather than
// dropping a transition, per the system's backpressure rule.
func NewContractWatcher(address common.Address, chainID domain.Chain, contract ethereum.Contract, events chan<- Event) *ContractWatcher {
	return &ContractWatcher{
		address:  address,
		chainID:  chainID,
		contract: contract,
		events:   events,
		phase:    domain.PhaseDeposit,
	}
}

// Phase returns the watcher's current believed phase.
func (w *ContractWatcher) Phase() domain.Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// TradeInitiatedBlock returns the block Trade began at, or 0 if the
// contract has not yet entered Trade.
func (w *ContractWatcher) TradeInitiatedBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tradeInitiatedBlock
}

// Poll performs one state-machine step: reads the contract's current phase
// and the chain head, and emits every intervening transition in strictly
// monotone order — a poll must never skip a phase in its event stream even
// if the on-chain phase has advanced past the watcher's belief by more than
// one step since the last poll. It also enforces the deadline backstop: if
// Trade has been open past trade_initiated_block + TradeDeadlineOffset with
// no external transition to Withdraw, the watcher forces one itself.
//
// Poll returns transitioned=true if the phase advanced this call. Once the
// watcher reaches Closed, further polls are no-ops.
func (w *ContractWatcher) Poll(ctx context.Context) (bool, error) {
	w.mu.Lock()

	if w.phase == domain.PhaseClosed {
		w.mu.Unlock()
		return false, nil
	}

	latestBlock, err := w.contract.LatestBlock(ctx)
	if err != nil {
		w.mu.Unlock()
		return false, fmt.Errorf("watcher %s: failed to read latest block: %w", w.address.Hex(), err)
	}

	onChainPhase, err := w.contract.CurrentPhase(ctx, nil)
	if err != nil {
		w.mu.Unlock()
		return false, fmt.Errorf("watcher %s: failed to read current phase: %w", w.address.Hex(), err)
	}

	if w.phase == domain.PhaseTrade && w.deadlineBlock > 0 && latestBlock > w.deadlineBlock && onChainPhase < domain.PhaseWithdraw {
		onChainPhase = domain.PhaseWithdraw
	}

	if onChainPhase < w.phase {
		w.mu.Unlock()
		return false, fmt.Errorf("watcher %s: on-chain phase %s regressed behind believed phase %s", w.address.Hex(), onChainPhase, w.phase)
	}
	if onChainPhase == w.phase {
		w.mu.Unlock()
		return false, nil
	}

	// Walk and commit every intervening transition while holding the lock,
	// but queue events for delivery after releasing it — the events channel
	// can block under backpressure and must never be sent on while Phase()
	// or TradeInitiatedBlock() might be waiting for the same lock.
	var pending []Event
	for next := w.phase + 1; next <= onChainPhase; next++ {
		from := w.phase
		w.phase = next
		pending = append(pending, Event{Kind: KindPhaseChange, Address: w.address, ChainID: w.chainID, From: from, To: next, Block: latestBlock})

		if next == domain.PhaseTrade {
			tradeBlock, err := w.contract.TradeInitiatedAtBlock(ctx, nil)
			if err != nil {
				w.mu.Unlock()
				w.deliver(pending)
				return true, fmt.Errorf("watcher %s: failed to read trade_initiated_block: %w", w.address.Hex(), err)
			}
			w.tradeInitiatedBlock = tradeBlock
			w.deadlineBlock = tradeBlock + domain.TradeDeadlineOffset
			pending = append(pending, Event{Kind: KindProofRequested, Address: w.address, ChainID: w.chainID, Block: tradeBlock})
		}
	}
	w.mu.Unlock()

	w.deliver(pending)
	return true, nil
}

// deliver sends queued events in order, blocking the poller rather than
// dropping any of them, matching the system's backpressure rule.
func (w *ContractWatcher) deliver(events []Event) {
	for _, e := range events {
		w.events <- e
	}
}
