package ttc

import (
	"sort"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// ToTransfers joins a Reallocation against the original owner of each
// received token to produce the (token hash, new owner) pairs a
// Reallocation submitted on-chain requires. owners maps every participating
// token hash to the address that deposited it. The result is sorted by
// TokenHash for deterministic serialization into the proof journal.
func ToTransfers(realloc Reallocation, owners map[domain.TokenHash]common.Address) []domain.TokenTransfer {
	out := make([]domain.TokenTransfer, 0, len(realloc))
	for token, received := range realloc {
		out = append(out, domain.TokenTransfer{
			TokenHash: token,
			NewOwner:  owners[received],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TokenHash.Compare(out[j].TokenHash) < 0
	})
	return out
}
