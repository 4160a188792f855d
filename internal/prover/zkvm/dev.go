package zkvm

import (
	"context"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/prover"
	"github.com/feral-file/ttc-coordinator/internal/ttc"
)

// devImageID is the sentinel image id reported by DevProver. It never
// matches a real guest binary's content hash, so an operator who wires a
// dev-mode prover to a real on-chain verifier by mistake fails loudly
// rather than silently accepting unproven journals.
var devImageID = []byte(domain.DevProofSealPrefix + "IMAGE")

// DevProver satisfies Proving by running C1 directly and skipping the
// cryptographic proof stage entirely, per spec.md §4.3's dev-mode
// requirement. It still produces a syntactically valid journal so
// downstream code paths (get_proof, on-chain submission tooling) don't
// need a separate dev-mode branch.
type DevProver struct{}

// NewDevProver constructs a DevProver.
func NewDevProver() *DevProver {
	return &DevProver{}
}

func (p *DevProver) ImageID() []byte {
	return devImageID
}

func (p *DevProver) Prove(ctx context.Context, input prover.Input) (prover.Seal, prover.Journal, error) {
	realloc, err := ttc.Solve(input.Preferences)
	if err != nil {
		return nil, nil, fmt.Errorf("dev prover: solve failed: %w", err)
	}
	transfers := ttc.ToTransfers(realloc, input.Owners)

	commitment := prover.ComputeStateCommitment(input)
	journal, err := prover.EncodeJournal(commitment, input.ContractAddress, transfers)
	if err != nil {
		return nil, nil, fmt.Errorf("dev prover: encode journal failed: %w", err)
	}

	return sentinelSeal(journal), journal, nil
}

// sentinelSeal derives a seal deterministically from the journal it
// accompanies: DevProofSealPrefix followed by keccak256(journal). Runs
// stay deterministic and inspectable in logs without being mistakable for
// a real cryptographic seal.
func sentinelSeal(journal prover.Journal) prover.Seal {
	h := sha3.NewLegacyKeccak256()
	h.Write(journal)
	sum := h.Sum(nil)

	seal := make(prover.Seal, 0, len(domain.DevProofSealPrefix)+len(sum))
	seal = append(seal, []byte(domain.DevProofSealPrefix)...)
	seal = append(seal, sum...)
	return seal
}
