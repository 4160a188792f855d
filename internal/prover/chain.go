package prover

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/feral-file/ttc-coordinator/internal/adapter"
	"github.com/feral-file/ttc-coordinator/internal/domain"
	"github.com/feral-file/ttc-coordinator/internal/providers/ethereum"
	"github.com/feral-file/ttc-coordinator/internal/ttc"
)

// ChainReader reads a contract's deposited-token preference set pinned to
// a specific block, per spec.md §4.3 step (a). It is a narrow interface
// so worker tests can inject a fake without a full adapter.EthClient.
type ChainReader interface {
	Preferences(ctx context.Context, address common.Address, block uint64) (ttc.Preferences, map[domain.TokenHash]common.Address, error)
}

type ethereumChainReader struct {
	client adapter.EthClient
}

// NewEthereumChainReader builds a ChainReader backed by a live Ethereum
// node connection, constructing a fresh internal/providers/ethereum
// Contract per call since a single prover process serves jobs against
// however many contracts are registered with the monitor.
func NewEthereumChainReader(client adapter.EthClient) ChainReader {
	return &ethereumChainReader{client: client}
}

func (r *ethereumChainReader) Preferences(ctx context.Context, address common.Address, block uint64) (ttc.Preferences, map[domain.TokenHash]common.Address, error) {
	contract := ethereum.NewContract(address, r.client)
	blockNumber := new(big.Int).SetUint64(block)

	records, err := contract.AllTokenPreferences(ctx, blockNumber)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read preferences for %s at block %d: %w", address.Hex(), block, err)
	}

	prefs := make(ttc.Preferences, len(records))
	owners := make(map[domain.TokenHash]common.Address, len(records))
	for _, r := range records {
		prefs[r.TokenHash] = r.Preferences
		owners[r.TokenHash] = r.Owner
	}
	return prefs, owners, nil
}
