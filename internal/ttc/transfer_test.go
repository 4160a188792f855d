package ttc

import (
	"testing"

	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestToTransfers_SortedByTokenHash(t *testing.T) {
	a, b, c := th(1), th(2), th(3)
	realloc := Reallocation{
		c: a,
		a: b,
		b: c,
	}
	owners := map[domain.TokenHash]common.Address{
		a: common.HexToAddress("0x1"),
		b: common.HexToAddress("0x2"),
		c: common.HexToAddress("0x3"),
	}

	transfers := ToTransfers(realloc, owners)
	require := assert.New(t)
	require.Len(transfers, 3)
	require.Equal(a, transfers[0].TokenHash)
	require.Equal(b, transfers[1].TokenHash)
	require.Equal(c, transfers[2].TokenHash)
	require.Equal(owners[b], transfers[0].NewOwner)
	require.Equal(owners[c], transfers[1].NewOwner)
	require.Equal(owners[a], transfers[2].NewOwner)
}
