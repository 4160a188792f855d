package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/feral-file/ttc-coordinator/internal/adapter"
	"github.com/feral-file/ttc-coordinator/internal/domain"
)

// contractABI covers exactly the four view functions and the one event
// spec.md §6 names for the TTC contract. Solidity source is out of scope,
// so this is a hand-rolled ABI fragment rather than a generated binding —
// the contract already exposes token identity as the same bytes32 hash
// (keccak256(collection || tokenId)) the off-chain solver uses, so no
// collection/tokenId unpacking happens on this side.
const contractABIJSON = `[
	{"type":"function","name":"currentPhase","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"tradeInitiatedAtBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getDepositedTokens","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[
		{"name":"tokenHash","type":"bytes32"},
		{"name":"collection","type":"address"},
		{"name":"tokenId","type":"uint256"},
		{"name":"owner","type":"address"}
	]}]},
	{"type":"function","name":"getAllTokenPreferences","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[
		{"name":"owner","type":"address"},
		{"name":"tokenHash","type":"bytes32"},
		{"name":"preferences","type":"bytes32[]"}
	]}]},
	{"type":"event","name":"PhaseChanged","anonymous":false,"inputs":[
		{"name":"previousPhase","type":"uint8","indexed":true},
		{"name":"newPhase","type":"uint8","indexed":true}
	]}
]`

var phaseChangedEventSignature = crypto.Keccak256Hash([]byte("PhaseChanged(uint8,uint8)"))

var contractABI = mustParseABI(contractABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("ethereum: invalid contract ABI: %v", err))
	}
	return parsed
}

// depositedTokenTuple mirrors getDepositedTokens' return tuple. Field names
// must match the ABI component names (case-insensitively) for
// abi.UnpackIntoInterface to populate them.
type depositedTokenTuple struct {
	TokenHash  [32]byte
	Collection common.Address
	TokenId    *big.Int
	Owner      common.Address
}

// preferenceTuple mirrors getAllTokenPreferences' return tuple.
type preferenceTuple struct {
	Owner       common.Address
	TokenHash   [32]byte
	Preferences [][32]byte
}

// PhaseChange is a decoded PhaseChanged log, timestamped with the block it
// occurred in.
type PhaseChange struct {
	From        domain.Phase
	To          domain.Phase
	BlockNumber uint64
}

// Contract reads the four view functions and PhaseChanged event spec.md §6
// names, against a single TTC contract instance addressed at construction.
type Contract interface {
	// CurrentPhase returns the contract's current lifecycle phase. A nil
	// blockNumber reads the latest state; otherwise the read is pinned to
	// that historical block, matching the zkVM guest's state-commitment step.
	CurrentPhase(ctx context.Context, blockNumber *big.Int) (domain.Phase, error)

	// TradeInitiatedAtBlock returns the block at which Trade phase began.
	// Zero means the contract has not yet entered Trade.
	TradeInitiatedAtBlock(ctx context.Context, blockNumber *big.Int) (uint64, error)

	// DepositedTokens returns every token currently deposited.
	DepositedTokens(ctx context.Context, blockNumber *big.Int) ([]domain.TokenIdentity, error)

	// AllTokenPreferences returns every deposited token's ranked preference list.
	AllTokenPreferences(ctx context.Context, blockNumber *big.Int) ([]domain.PreferenceRecord, error)

	// LatestBlock returns the chain's current block number.
	LatestBlock(ctx context.Context) (uint64, error)

	// SubscribeToPhaseChanges streams decoded PhaseChanged events from
	// fromBlock onward. It is a correctness accelerator only — the watcher
	// must still poll CurrentPhase as the backstop spec.md §4.4 requires.
	SubscribeToPhaseChanges(ctx context.Context, fromBlock uint64, ch chan<- PhaseChange) (ethereum.Subscription, error)

	// Close releases the underlying chain connection.
	Close()
}

type contract struct {
	address common.Address
	client  adapter.EthClient
}

// NewContract binds a Contract reader to a single deployed TTC instance.
func NewContract(address common.Address, client adapter.EthClient) Contract {
	return &contract{address: address, client: client}
}

func (c *contract) call(ctx context.Context, blockNumber *big.Int, method string, out interface{}) error {
	data, err := contractABI.Pack(method)
	if err != nil {
		return fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, blockNumber)
	if err != nil {
		return fmt.Errorf("failed to call %s on %s: %w", method, c.address.Hex(), err)
	}

	unpacked, err := contractABI.Unpack(method, result)
	if err != nil {
		return fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(unpacked) != 1 {
		return fmt.Errorf("unexpected %s output arity: %d", method, len(unpacked))
	}
	return assignUnpacked(unpacked[0], out)
}

// assignUnpacked copies an unpacked ABI value into out, which must be a
// pointer to a compatible type. go-ethereum's abi.Unpack already produces
// concrete Go values (uint8, *big.Int, slices of structs); this just avoids
// a reflect.Set boilerplate block at every call site.
func assignUnpacked(value interface{}, out interface{}) error {
	switch o := out.(type) {
	case *uint8:
		v, ok := value.(uint8)
		if !ok {
			return fmt.Errorf("expected uint8, got %T", value)
		}
		*o = v
	case **big.Int:
		v, ok := value.(*big.Int)
		if !ok {
			return fmt.Errorf("expected *big.Int, got %T", value)
		}
		*o = v
	case *[]depositedTokenTuple:
		v, ok := value.([]struct {
			TokenHash  [32]byte       `json:"tokenHash"`
			Collection common.Address `json:"collection"`
			TokenId    *big.Int       `json:"tokenId"`
			Owner      common.Address `json:"owner"`
		})
		if !ok {
			return fmt.Errorf("expected deposited token tuple slice, got %T", value)
		}
		result := make([]depositedTokenTuple, len(v))
		for i, t := range v {
			result[i] = depositedTokenTuple(t)
		}
		*o = result
	case *[]preferenceTuple:
		v, ok := value.([]struct {
			Owner       common.Address `json:"owner"`
			TokenHash   [32]byte       `json:"tokenHash"`
			Preferences [][32]byte     `json:"preferences"`
		})
		if !ok {
			return fmt.Errorf("expected preference tuple slice, got %T", value)
		}
		result := make([]preferenceTuple, len(v))
		for i, t := range v {
			result[i] = preferenceTuple(t)
		}
		*o = result
	default:
		return fmt.Errorf("unsupported unpack target %T", out)
	}
	return nil
}

func (c *contract) CurrentPhase(ctx context.Context, blockNumber *big.Int) (domain.Phase, error) {
	var raw uint8
	if err := c.call(ctx, blockNumber, "currentPhase", &raw); err != nil {
		return 0, err
	}
	phase, err := domain.PhaseFromUint8(raw)
	if err != nil {
		return 0, fmt.Errorf("contract %s: %w", c.address.Hex(), err)
	}
	return phase, nil
}

func (c *contract) TradeInitiatedAtBlock(ctx context.Context, blockNumber *big.Int) (uint64, error) {
	var raw *big.Int
	if err := c.call(ctx, blockNumber, "tradeInitiatedAtBlock", &raw); err != nil {
		return 0, err
	}
	return raw.Uint64(), nil
}

func (c *contract) DepositedTokens(ctx context.Context, blockNumber *big.Int) ([]domain.TokenIdentity, error) {
	var raw []depositedTokenTuple
	if err := c.call(ctx, blockNumber, "getDepositedTokens", &raw); err != nil {
		return nil, err
	}

	tokens := make([]domain.TokenIdentity, len(raw))
	for i, t := range raw {
		tokens[i] = domain.TokenIdentity{
			Hash:             domain.TokenHash(t.TokenHash),
			CollectionAddr:   t.Collection,
			TokenID:          t.TokenId.String(),
			CurrentOwnerAddr: t.Owner,
		}
	}
	return tokens, nil
}

func (c *contract) AllTokenPreferences(ctx context.Context, blockNumber *big.Int) ([]domain.PreferenceRecord, error) {
	var raw []preferenceTuple
	if err := c.call(ctx, blockNumber, "getAllTokenPreferences", &raw); err != nil {
		return nil, err
	}

	records := make([]domain.PreferenceRecord, len(raw))
	for i, r := range raw {
		prefs := make([]domain.TokenHash, len(r.Preferences))
		for j, p := range r.Preferences {
			prefs[j] = domain.TokenHash(p)
		}
		records[i] = domain.PreferenceRecord{
			Owner:       r.Owner,
			TokenHash:   domain.TokenHash(r.TokenHash),
			Preferences: prefs,
		}
	}
	return records, nil
}

func (c *contract) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}

func (c *contract) SubscribeToPhaseChanges(ctx context.Context, fromBlock uint64, ch chan<- PhaseChange) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{phaseChangedEventSignature}},
	}

	logs := make(chan types.Log)
	sub, err := c.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to PhaseChanged logs: %w", err)
	}

	go func() {
		for vLog := range logs {
			change, err := decodePhaseChanged(vLog)
			if err != nil {
				continue
			}
			select {
			case ch <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

func decodePhaseChanged(vLog types.Log) (PhaseChange, error) {
	if len(vLog.Topics) != 3 {
		return PhaseChange{}, fmt.Errorf("invalid PhaseChanged log: expected 3 topics, got %d", len(vLog.Topics))
	}

	from, err := domain.PhaseFromUint8(uint8(vLog.Topics[1].Big().Uint64()))
	if err != nil {
		return PhaseChange{}, err
	}
	to, err := domain.PhaseFromUint8(uint8(vLog.Topics[2].Big().Uint64()))
	if err != nil {
		return PhaseChange{}, err
	}

	return PhaseChange{From: from, To: to, BlockNumber: vLog.BlockNumber}, nil
}

func (c *contract) Close() {
	c.client.Close()
}
