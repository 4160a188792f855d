// Package prover defines the proving capability the worker in
// cmd/prover drives, and the guest input/journal encodings that cross
// the boundary to the zkVM toolchain (out of scope per spec.md §1).
package prover

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/ttc"
)

// Input is everything a Proving implementation needs to prove one job:
// the contract and block the job is pinned to, and the preference set
// with ownership read from the contract at that block.
type Input struct {
	ContractAddress common.Address
	ChainID         domain.Chain
	Block           uint64
	Preferences     ttc.Preferences
	Owners          map[domain.TokenHash]common.Address
}

// Seal is the cryptographic proof accompanying a Journal, verifiable
// on-chain against a known image id.
type Seal []byte

// Journal is the ABI-encoded (state_commitment, contract_address,
// reallocation[]) tuple a completed job persists, matching the format
// the on-chain reallocateTokens(journal, seal) expects.
type Journal []byte

// Proving abstracts the proof-generation stage behind the capability
// spec.md §9 describes: {prove(input) -> (seal, journal), image_id() ->
// bytes}. zkvm.RealProver and zkvm.DevProver are the two implementations.
type Proving interface {
	// Prove verifies input against the pinned on-chain state, runs the
	// TTC solve, and returns the resulting seal and journal.
	Prove(ctx context.Context, input Input) (Seal, Journal, error)

	// ImageID returns the content hash of the guest program currently in
	// use, so the operator can align the on-chain verifier configuration.
	ImageID() []byte
}
