package prover

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ttc-coordinator/internal/domain"
)

func TestEncodeDecodeJournal_RoundTrip(t *testing.T) {
	commitment := [32]byte{1, 2, 3}
	contractAddress := common.HexToAddress("0xabc")
	transfers := []domain.TokenTransfer{
		{TokenHash: domain.TokenHash{1}, NewOwner: common.HexToAddress("0x1")},
		{TokenHash: domain.TokenHash{2}, NewOwner: common.HexToAddress("0x2")},
	}

	journal, err := EncodeJournal(commitment, contractAddress, transfers)
	require.NoError(t, err)
	assert.NotEmpty(t, journal)

	gotCommitment, gotAddress, gotTransfers, err := DecodeJournal(journal)
	require.NoError(t, err)
	assert.Equal(t, commitment, gotCommitment)
	assert.Equal(t, contractAddress, gotAddress)
	assert.Equal(t, transfers, gotTransfers)
}

func TestEncodeJournal_EmptyReallocation(t *testing.T) {
	journal, err := EncodeJournal([32]byte{}, common.HexToAddress("0xdead"), nil)
	require.NoError(t, err)

	_, _, transfers, err := DecodeJournal(journal)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestComputeStateCommitment_DeterministicAndOrderIndependent(t *testing.T) {
	tokenA := domain.TokenHash{1}
	tokenB := domain.TokenHash{2}
	ownerA := common.HexToAddress("0xa")
	ownerB := common.HexToAddress("0xb")

	base := Input{
		ContractAddress: common.HexToAddress("0xc0ffee"),
		Block:           100,
		Owners:          map[domain.TokenHash]common.Address{tokenA: ownerA, tokenB: ownerB},
	}

	first := base
	first.Preferences = map[domain.TokenHash][]domain.TokenHash{
		tokenA: {tokenB},
		tokenB: {tokenA},
	}

	second := base
	second.Preferences = map[domain.TokenHash][]domain.TokenHash{
		tokenB: {tokenA},
		tokenA: {tokenB},
	}

	assert.Equal(t, ComputeStateCommitment(first), ComputeStateCommitment(second))

	third := base
	third.Block = 101
	third.Preferences = first.Preferences
	assert.NotEqual(t, ComputeStateCommitment(first), ComputeStateCommitment(third))
}
