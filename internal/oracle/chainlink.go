package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	xerrors "Evolve-Chain/internal/errors"
)

// aggregatorV3ABI covers the read-only subset of AggregatorV3Interface.
const aggregatorV3ABI = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}
  ],"stateMutability":"view","type":"function"}
]`

// ContractCaller is the subset of ethclient.Client needed to read a feed.
type ContractCaller interface {
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkConfig describes an AggregatorV3 price feed.
type ChainlinkConfig struct {
	Name         string
	RPCURL       string
	Address      string
	MaxStaleness time.Duration
}

// ChainlinkFeed reads latestRoundData from an AggregatorV3 contract and scales
// the answer by the feed decimals.
type ChainlinkFeed struct {
	name         string
	caller       ContractCaller
	address      common.Address
	abi          abi.ABI
	maxStaleness time.Duration
	now          func() time.Time
	closer       func()

	mu          sync.Mutex
	decimals    uint8
	hasDecimals bool
}

// DialChainlinkFeed connects to the configured RPC endpoint.
func DialChainlinkFeed(ctx context.Context, cfg ChainlinkConfig) (*ChainlinkFeed, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "price feed rpc_url is empty")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(CodeUnavailable, err, "dial price feed rpc")
	}
	feed, err := NewChainlinkFeed(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	feed.closer = client.Close
	return feed, nil
}

// NewChainlinkFeed builds a feed reader on top of an existing caller.
func NewChainlinkFeed(caller ContractCaller, cfg ChainlinkConfig) (*ChainlinkFeed, error) {
	if caller == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "contract caller is nil")
	}
	if !common.IsHexAddress(cfg.Address) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid feed address %q", cfg.Address))
	}
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "parse aggregator abi")
	}
	name := cfg.Name
	if name == "" {
		name = "chainlink"
	}
	return &ChainlinkFeed{
		name:         name,
		caller:       caller,
		address:      common.HexToAddress(cfg.Address),
		abi:          parsed,
		maxStaleness: cfg.MaxStaleness,
		now:          time.Now,
	}, nil
}

// Name returns the configured feed name.
func (f *ChainlinkFeed) Name() string { return f.name }

// Close releases the RPC connection when the feed dialled it.
func (f *ChainlinkFeed) Close() {
	if f != nil && f.closer != nil {
		f.closer()
	}
}

// LatestSignal implements Oracle.
func (f *ChainlinkFeed) LatestSignal(ctx context.Context) (Signal, error) {
	decimals, err := f.feedDecimals(ctx)
	if err != nil {
		return Signal{}, err
	}

	values, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return Signal{}, err
	}
	if len(values) != 5 {
		return Signal{}, xerrors.New(CodeUnavailable, fmt.Sprintf("latestRoundData returned %d values", len(values)))
	}
	roundID, _ := values[0].(*big.Int)
	answer, _ := values[1].(*big.Int)
	updatedAt, _ := values[3].(*big.Int)
	answeredInRound, _ := values[4].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil || answeredInRound == nil {
		return Signal{}, xerrors.New(CodeUnavailable, "latestRoundData returned unexpected types")
	}

	if updatedAt.Sign() == 0 {
		return Signal{}, xerrors.Wrap(CodeUnusableSignal, ErrUnusableSignal, "round not complete")
	}
	if answeredInRound.Cmp(roundID) < 0 {
		return Signal{}, xerrors.Wrap(CodeUnusableSignal, ErrUnusableSignal,
			fmt.Sprintf("answer carried over from round %s", answeredInRound))
	}
	updated := time.Unix(updatedAt.Int64(), 0)
	if f.maxStaleness > 0 && f.now().Sub(updated) > f.maxStaleness {
		return Signal{}, xerrors.Wrap(CodeUnusableSignal, ErrUnusableSignal,
			fmt.Sprintf("answer is stale, updated at %s", updated.UTC().Format(time.RFC3339)))
	}

	return Signal{
		Value:     decimal.NewFromBigInt(answer, -int32(decimals)),
		UpdatedAt: updated,
		Source:    f.name,
	}, nil
}

func (f *ChainlinkFeed) feedDecimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasDecimals {
		return f.decimals, nil
	}
	values, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, xerrors.New(CodeUnavailable, "decimals returned no value")
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, xerrors.New(CodeUnavailable, "decimals returned unexpected type")
	}
	f.decimals = decimals
	f.hasDecimals = true
	return decimals, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, method string) ([]any, error) {
	data, err := f.abi.Pack(method)
	if err != nil {
		return nil, xerrors.Wrap(CodeUnavailable, err, "pack "+method)
	}
	to := f.address
	out, err := f.caller.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeUnavailable, err, "call "+method)
	}
	values, err := f.abi.Unpack(method, out)
	if err != nil {
		return nil, xerrors.Wrap(CodeUnavailable, err, "unpack "+method)
	}
	return values, nil
}

var _ Oracle = (*ChainlinkFeed)(nil)
