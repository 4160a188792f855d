package prover

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/feral-file/ttc-coordinator/internal/domain"
)

// journalArguments describes the tuple
// (bytes32 state_commitment, address contract_address, (bytes32,address)[]
// reallocation) that reallocateTokens(journal, seal) expects, per spec.md
// §6's exact wording.
var journalArguments = mustJournalArguments()

func mustJournalArguments() abi.Arguments {
	bytes32Ty, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	transferTupleTy, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "tokenHash", Type: "bytes32"},
		{Name: "newOwner", Type: "address"},
	})
	if err != nil {
		panic(err)
	}

	return abi.Arguments{
		{Name: "stateCommitment", Type: bytes32Ty},
		{Name: "contractAddress", Type: addressTy},
		{Name: "reallocation", Type: transferTupleTy},
	}
}

// journalTransfer mirrors the reallocation tuple's component names, which
// abi.Arguments.Pack matches to struct fields by name.
type journalTransfer struct {
	TokenHash [32]byte
	NewOwner  common.Address
}

// EncodeJournal ABI-encodes a completed job's outcome into the byte layout
// spec.md §6 fixes as the sole format constraint an off-chain collaborator
// imposes on the core. transfers must already be sorted by TokenHash, per
// ttc.ToTransfers, so guest and host produce byte-identical journals.
func EncodeJournal(stateCommitment [32]byte, contractAddress common.Address, transfers []domain.TokenTransfer) (Journal, error) {
	rows := make([]journalTransfer, len(transfers))
	for i, t := range transfers {
		rows[i] = journalTransfer{TokenHash: t.TokenHash, NewOwner: t.NewOwner}
	}

	packed, err := journalArguments.Pack(stateCommitment, contractAddress, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode journal: %w", err)
	}
	return Journal(packed), nil
}

// DecodeJournal reverses EncodeJournal. Only tests call it; the monitor's
// get_proof returns the journal bytes undecoded.
func DecodeJournal(journal Journal) (stateCommitment [32]byte, contractAddress common.Address, transfers []domain.TokenTransfer, err error) {
	values, err := journalArguments.Unpack(journal)
	if err != nil {
		return stateCommitment, contractAddress, nil, fmt.Errorf("failed to decode journal: %w", err)
	}
	if len(values) != 3 {
		return stateCommitment, contractAddress, nil, fmt.Errorf("unexpected journal arity: %d", len(values))
	}

	commitment, ok := values[0].([32]byte)
	if !ok {
		return stateCommitment, contractAddress, nil, fmt.Errorf("expected bytes32 state commitment, got %T", values[0])
	}
	addr, ok := values[1].(common.Address)
	if !ok {
		return stateCommitment, contractAddress, nil, fmt.Errorf("expected address, got %T", values[1])
	}
	rows, ok := values[2].([]struct {
		TokenHash [32]byte       `json:"tokenHash"`
		NewOwner  common.Address `json:"newOwner"`
	})
	if !ok {
		return stateCommitment, contractAddress, nil, fmt.Errorf("expected reallocation tuple slice, got %T", values[2])
	}

	transfers = make([]domain.TokenTransfer, len(rows))
	for i, r := range rows {
		transfers[i] = domain.TokenTransfer{TokenHash: domain.TokenHash(r.TokenHash), NewOwner: r.NewOwner}
	}
	return commitment, addr, transfers, nil
}

// ComputeStateCommitment hashes the exact inputs the zkVM guest's
// state-bound primitive would attest to: the contract address, the pinned
// block, and every deposited token's preference list in deterministic
// order. Real proofs get their commitment from the guest itself; this is
// used by the dev-mode stub, which bypasses the guest but must still
// produce a structurally valid journal.
func ComputeStateCommitment(input Input) [32]byte {
	tokens := make([]domain.TokenHash, 0, len(input.Preferences))
	for token := range input.Preferences {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Compare(tokens[j]) < 0 })

	h := sha3.NewLegacyKeccak256()
	h.Write(input.ContractAddress.Bytes())
	writeUint64(h, input.Block)
	for _, token := range tokens {
		h.Write(token[:])
		h.Write(input.Owners[token].Bytes())
		for _, pref := range input.Preferences[token] {
			h.Write(pref[:])
		}
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(v)
		v >>= 8
	}
	_, _ = h.Write(buf[:])
}
