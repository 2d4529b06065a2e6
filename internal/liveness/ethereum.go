package liveness

import (
	"context"
	"fmt"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	txtypes "github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// liveContractABI is the view-function surface the radius liveness contract
// exposes; the method names mirror the Publisher interface one-to-one.
const liveContractABI = `[
	{"name":"getBlockMargin","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint64"}]},
	{"name":"getClusterIdList","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string[]"}]},
	{"name":"getSequencerList","type":"function","stateMutability":"view","inputs":[{"type":"string"},{"type":"uint64"}],"outputs":[{"type":"address[]"}]},
	{"name":"getRollupInfoList","type":"function","stateMutability":"view","inputs":[{"type":"string"},{"type":"uint64"}],"outputs":[{"type":"tuple[]","components":[{"name":"rollupId","type":"string"},{"name":"executorAddressList","type":"address[]"},{"name":"maxGasLimit","type":"uint64"}]}]}
]`

// EthereumClient implements both Publisher and Subscriber against a real
// chain, grounded on the teacher's pkg/ethereum/client.go CallContract (ABI
// pack/call/unpack) and pkg/anchor/event_watcher.go's poll loop.
type EthereumClient struct {
	client          *ethclient.Client
	contractAddr    common.Address
	contractABI     abi.ABI
	pollInterval    time.Duration
	blockLookback   uint64
}

// NewEthereumClient dials url and binds to the liveness contract at addr.
func NewEthereumClient(url string, addr common.Address) (*EthereumClient, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindLivenessClient, "liveness.NewEthereumClient", err)
	}
	parsed, err := abi.JSON(strings.NewReader(liveContractABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindLivenessClient, "liveness.NewEthereumClient", err)
	}
	return &EthereumClient{
		client:        client,
		contractAddr:  addr,
		contractABI:   parsed,
		pollInterval:  3 * time.Second,
		blockLookback: 50,
	}, nil
}

func (c *EthereumClient) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	data, err := c.contractABI.Pack(method, params...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindLivenessClient, "liveness.call", fmt.Errorf("pack %s: %w", method, err))
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.contractAddr, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindLivenessClient, "liveness.call", fmt.Errorf("call %s: %w", method, err))
	}
	outputs, err := c.contractABI.Unpack(method, result)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindLivenessClient, "liveness.call", fmt.Errorf("unpack %s: %w", method, err))
	}
	return outputs, nil
}

func (c *EthereumClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.KindLivenessClient, "liveness.GetBlockNumber", err)
	}
	return n, nil
}

func (c *EthereumClient) GetBlockMargin(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "getBlockMargin")
	if err != nil {
		return 0, err
	}
	return out[0].(uint64), nil
}

func (c *EthereumClient) GetClusterIdList(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, "getClusterIdList")
	if err != nil {
		return nil, err
	}
	return out[0].([]string), nil
}

func (c *EthereumClient) GetSequencerList(ctx context.Context, clusterId string, height uint64) ([]txtypes.Address, error) {
	out, err := c.call(ctx, "getSequencerList", clusterId, height)
	if err != nil {
		return nil, err
	}
	addrs := out[0].([]common.Address)
	result := make([]txtypes.Address, len(addrs))
	copy(result, addrs)
	return result, nil
}

func (c *EthereumClient) GetRollupInfoList(ctx context.Context, clusterId string, height uint64) ([]RollupInfo, error) {
	out, err := c.call(ctx, "getRollupInfoList", clusterId, height)
	if err != nil {
		return nil, err
	}
	raw, ok := out[0].([]struct {
		RollupId            string           `json:"rollupId"`
		ExecutorAddressList []common.Address `json:"executorAddressList"`
		MaxGasLimit         uint64           `json:"maxGasLimit"`
	})
	if !ok {
		return nil, xerrors.New(xerrors.KindLivenessClient, "liveness.GetRollupInfoList", "unexpected ABI decode shape")
	}
	infos := make([]RollupInfo, len(raw))
	for i, r := range raw {
		execs := make([]txtypes.Address, len(r.ExecutorAddressList))
		copy(execs, r.ExecutorAddressList)
		infos[i] = RollupInfo{
			RollupId:            r.RollupId,
			ExecutorAddressList: execs,
			MaxGasLimit:         r.MaxGasLimit,
		}
	}
	return infos, nil
}

// Subscribe polls for new platform blocks, the way pkg/anchor/event_watcher.go
// polls for contract logs — the liveness contract here is read by block
// number advancement rather than by a dedicated event, since every cluster's
// committee is re-derived from on-chain state at the new height.
func (c *EthereumClient) Subscribe(ctx context.Context) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errs := make(chan error, 4)

	go func() {
		defer close(events)
		defer close(errs)

		var lastSeen uint64
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := c.client.BlockNumber(ctx)
				if err != nil {
					select {
					case errs <- xerrors.Wrap(xerrors.KindLivenessClient, "liveness.Subscribe", err):
					default:
					}
					continue
				}
				if current <= lastSeen {
					continue
				}
				lastSeen = current
				select {
				case events <- Event{Block: &BlockEvent{Number: current}}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, errs
}
