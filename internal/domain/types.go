package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Chain represents the blockchain network identifier using CAIP-2 format
type Chain string

const (
	ChainEthereumMainnet Chain = "eip155:1"
	ChainEthereumSepolia Chain = "eip155:11155111"
)

// IsValidChain checks if a chain is one this system knows how to watch
func IsValidChain(chain Chain) bool {
	return chain == ChainEthereumMainnet || chain == ChainEthereumSepolia
}

// TokenHash is the 32-byte keccak256(collection_address || token_id) identifier
// used across the algorithm, the job store, and the proof. It is the sole
// vertex identity in the preference graph.
type TokenHash [32]byte

// NewTokenHash computes H = keccak256(collectionAddress || tokenID) where
// tokenID is the big-endian, left-zero-padded 32-byte encoding of the
// on-chain token id, matching the ABI word encoding the contract itself uses.
func NewTokenHash(collectionAddress common.Address, tokenID [32]byte) TokenHash {
	h := sha3.NewLegacyKeccak256()
	h.Write(collectionAddress.Bytes())
	h.Write(tokenID[:])
	var out TokenHash
	copy(out[:], h.Sum(nil))
	return out
}

// String returns the 0x-prefixed hex encoding of the hash
func (h TokenHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the zero value
func (h TokenHash) IsZero() bool {
	return h == TokenHash{}
}

// Compare gives a deterministic total order over token hashes, used
// anywhere the algorithm or its tests need a stable iteration order instead
// of relying on map iteration.
func (h TokenHash) Compare(other TokenHash) int {
	return bytes.Compare(h[:], other[:])
}

// ParseTokenHash parses a 0x-prefixed or bare hex string into a TokenHash
func ParseTokenHash(s string) (TokenHash, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return TokenHash{}, fmt.Errorf("invalid token hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return TokenHash{}, fmt.Errorf("invalid token hash %q: want 32 bytes, got %d", s, len(b))
	}
	var out TokenHash
	copy(out[:], b)
	return out, nil
}

// TokenIdentity carries the (collection, token id) pair alongside its hash,
// used only for external display; the hash remains the sole identifier used
// by the algorithm, the job store, and the proof.
type TokenIdentity struct {
	Hash             TokenHash
	CollectionAddr   common.Address
	TokenID          string
	CurrentOwnerAddr common.Address
}

// PreferenceRecord is one deposited token's ranked preference list, as read
// from the contract at a pinned block.
type PreferenceRecord struct {
	Owner       common.Address
	TokenHash   TokenHash
	Preferences []TokenHash // ranked most- to least-preferred
}

// TokenTransfer is a single (token_hash, new_owner) pair in a Reallocation.
type TokenTransfer struct {
	TokenHash TokenHash
	NewOwner  common.Address
}

// Phase is a TTC contract lifecycle phase.
type Phase int

const (
	PhaseDeposit Phase = iota
	PhaseRank
	PhaseTrade
	PhaseWithdraw
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseDeposit:
		return "deposit"
	case PhaseRank:
		return "rank"
	case PhaseTrade:
		return "trade"
	case PhaseWithdraw:
		return "withdraw"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PhaseFromUint8 maps the contract's on-chain phase encoding (uint8) to Phase.
// The contract enumerates phases 0..4 in the order Deposit, Rank, Trade,
// Withdraw, Closed, matching the transition diagram in the on-chain state
// machine this system watches.
func PhaseFromUint8(v uint8) (Phase, error) {
	if v > uint8(PhaseClosed) {
		return 0, fmt.Errorf("unknown on-chain phase value: %d", v)
	}
	return Phase(v), nil
}

// TradeDeadlineOffset is the number of blocks after trade_initiated_block
// past which an unfulfilled proof request is forfeit.
const TradeDeadlineOffset = 250

// JobStatus is the lifecycle status of a persisted proof job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status can never transition further.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
