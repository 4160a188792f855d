package zkvm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/prover"
)

// ProvingClient is the adapter boundary around the zkVM host toolchain,
// which spec.md §1 places out of scope: the guest program, its proving
// backend, and the "prove an ethereum-state-bound program" primitive are
// all taken as given. This mirrors the teacher's internal/adapter pattern
// of wrapping every external SDK behind a small mockable interface (see
// adapter.EthClient).
type ProvingClient interface {
	// Prove submits the guest input and blocks until the proving backend
	// returns a seal and journal, or fails. Callers apply their own
	// timeout via ctx (spec.md §5 defaults this to one hour).
	Prove(ctx context.Context, guestInput []byte) (seal []byte, journal []byte, err error)

	// ImageID returns the content hash of the guest binary the backend is
	// currently configured with.
	ImageID(ctx context.Context) ([]byte, error)
}

// guestInput is the serialized form handed to ProvingClient.Prove: the
// contract address, the pinned block, and the preference set with
// ownership, per spec.md §4.3 step (b). Preferences are flattened into a
// sorted slice rather than passed as a map so the encoded bytes — and
// therefore anything derived from them inside the guest — are independent
// of Go's randomized map iteration order.
type guestInput struct {
	ContractAddress common.Address     `json:"contract_address"`
	ChainID         domain.Chain       `json:"chain_id"`
	Block           uint64             `json:"block"`
	Tokens          []guestInputRecord `json:"tokens"`
}

type guestInputRecord struct {
	TokenHash   domain.TokenHash   `json:"token_hash"`
	Owner       common.Address     `json:"owner"`
	Preferences []domain.TokenHash `json:"preferences"`
}

func encodeGuestInput(input prover.Input) ([]byte, error) {
	tokens := make([]domain.TokenHash, 0, len(input.Preferences))
	for token := range input.Preferences {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Compare(tokens[j]) < 0 })

	records := make([]guestInputRecord, len(tokens))
	for i, token := range tokens {
		records[i] = guestInputRecord{
			TokenHash:   token,
			Owner:       input.Owners[token],
			Preferences: input.Preferences[token],
		}
	}

	raw, err := json.Marshal(guestInput{
		ContractAddress: input.ContractAddress,
		ChainID:         input.ChainID,
		Block:           input.Block,
		Tokens:          records,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode guest input: %w", err)
	}
	return raw, nil
}

// RealProver adapts a ProvingClient to the Proving capability. It caches
// the backend's reported image id on first use so ImageID() can be called
// without a round trip on every get_image_id_contract call.
type RealProver struct {
	client  ProvingClient
	imageID []byte
}

// NewRealProver constructs a RealProver around an injected ProvingClient.
func NewRealProver(client ProvingClient) *RealProver {
	return &RealProver{client: client}
}

func (p *RealProver) Prove(ctx context.Context, input prover.Input) (prover.Seal, prover.Journal, error) {
	raw, err := encodeGuestInput(input)
	if err != nil {
		return nil, nil, err
	}

	seal, journal, err := p.client.Prove(ctx, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("real prover: %w", err)
	}
	return prover.Seal(seal), prover.Journal(journal), nil
}

// ImageID returns the cached image id, fetching it from the backend on
// first call. A failed fetch returns nil rather than an error since
// spec.md §4.3's get_image_id_contract is advisory tooling, not a
// correctness-critical path.
func (p *RealProver) ImageID() []byte {
	if p.imageID != nil {
		return p.imageID
	}
	id, err := p.client.ImageID(context.Background())
	if err != nil {
		return nil
	}
	p.imageID = id
	return id
}
