// Package validation implements spec.md §4.7: posting a finalized block's
// commitment to the rollup's configured validation (AVS) service, and the
// validation-service-manager event callback that responds to tasks
// referencing blocks this node did not author. EigenLayer publishes are
// single-shot; Symbiotic publishes retry up to ten times with a 1-2s linear
// back-off. Grounded on the teacher's pkg/ethereum/client.go
// (SendContractTransaction, SendContractTransactionWithRetry) generalized
// from one general-purpose Ethereum client into two AVS-specific publish
// strategies selected by types.ValidationServiceProvider.
package validation

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/radiusxyz/tx-orderer/internal/cache"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	txtypes "github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// symbioticMaxAttempts and the 1-2s back-off window are fixed by spec.md
// §4.7.
const symbioticMaxAttempts = 10

const serviceManagerABI = `[
	{"name":"submitBlockCommitment","type":"function","stateMutability":"nonpayable","inputs":[{"name":"rollupId","type":"string"},{"name":"blockNumber","type":"uint64"},{"name":"commitment","type":"bytes32"}],"outputs":[]},
	{"name":"respondToTask","type":"function","stateMutability":"nonpayable","inputs":[{"name":"rollupId","type":"string"},{"name":"referenceTaskIndex","type":"uint32"},{"name":"commitment","type":"bytes32"}],"outputs":[]},
	{"anonymous":false,"name":"NewTaskCreated","type":"event","inputs":[{"name":"rollupId","type":"string","indexed":false},{"name":"referenceTaskIndex","type":"uint32","indexed":false},{"name":"blockNumber","type":"uint64","indexed":false}]}
]`

// Client wraps one validation-service-manager contract binding. Rollups
// configure which provider strategy (EigenLayer/Symbiotic) wraps this
// client via types.ValidationInfo.ServiceProvider.
type Client struct {
	eth          *ethclient.Client
	contractAddr common.Address
	contractABI  abi.ABI
	chainID      *big.Int
	signer       *signer.Signer
}

// NewClient dials rpcUrl and binds to the validation-service-manager at
// contractAddr.
func NewClient(rpcUrl string, contractAddr common.Address, chainID *big.Int, s *signer.Signer) (*Client, error) {
	eth, err := ethclient.Dial(rpcUrl)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindValidationClient, "validation.NewClient", err)
	}
	parsed, err := abi.JSON(strings.NewReader(serviceManagerABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindValidationClient, "validation.NewClient", err)
	}
	return &Client{eth: eth, contractAddr: contractAddr, contractABI: parsed, chainID: chainID, signer: s}, nil
}

func (c *Client) sendOnce(ctx context.Context, method string, params ...interface{}) error {
	data, err := c.contractABI.Pack(method, params...)
	if err != nil {
		return xerrors.Wrap(xerrors.KindValidationClient, "validation.sendOnce", fmt.Errorf("pack %s: %w", method, err))
	}

	auth, err := c.signer.TransactOpts(c.chainID)
	if err != nil {
		return err
	}

	nonce, err := c.eth.PendingNonceAt(ctx, auth.From)
	if err != nil {
		return xerrors.Wrap(xerrors.KindValidationClient, "validation.sendOnce", fmt.Errorf("nonce: %w", err))
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.KindValidationClient, "validation.sendOnce", fmt.Errorf("gas price: %w", err))
	}

	tx := types.NewTransaction(nonce, c.contractAddr, big.NewInt(0), 300_000, gasPrice, data)
	signedTx, err := auth.Signer(auth.From, tx)
	if err != nil {
		return xerrors.Wrap(xerrors.KindValidationClient, "validation.sendOnce", fmt.Errorf("sign %s: %w", method, err))
	}
	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return xerrors.Wrap(xerrors.KindValidationClient, "validation.sendOnce", fmt.Errorf("send %s: %w", method, err))
	}
	if _, err := bind.WaitMined(ctx, c.eth, signedTx); err != nil {
		return xerrors.Wrap(xerrors.KindValidationClient, "validation.sendOnce", fmt.Errorf("wait mined %s: %w", method, err))
	}
	return nil
}

// sendWithRetry is Symbiotic's publish strategy: up to symbioticMaxAttempts
// tries with a 1-2s linear back-off, exiting on first success.
func (c *Client) sendWithRetry(ctx context.Context, method string, params ...interface{}) error {
	var lastErr error
	for attempt := 0; attempt < symbioticMaxAttempts; attempt++ {
		if err := c.sendOnce(ctx, method, params...); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < symbioticMaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1+attempt%2) * time.Second):
			}
		}
	}
	return xerrors.Wrap(xerrors.KindValidationClient, "validation.sendWithRetry", fmt.Errorf("exhausted %d attempts: %w", symbioticMaxAttempts, lastErr))
}

// publishClient is the narrow surface Publisher and TaskCallback need from a
// Client; kept as an interface so both can be exercised in tests without a
// live chain connection.
type publishClient interface {
	sendOnce(ctx context.Context, method string, params ...interface{}) error
	sendWithRetry(ctx context.Context, method string, params ...interface{}) error
}

// Publisher posts block commitments for one rollup, per its configured
// ValidationServiceProvider. Implements internal/buildblock.ValidationTrigger.
// Backed by internal/cache.Map rather than a plain map guarded by an ad hoc
// mutex, the same hot-derived-data cache the membership engine uses for its
// per-address client tables (spec.md §4.1).
type Publisher struct {
	clients *cache.Map[string, publishClient] // keyed by rollup id
	info    *cache.Map[string, txtypes.ValidationInfo]
}

func NewPublisher() *Publisher {
	return &Publisher{clients: cache.NewMap[string, publishClient](), info: cache.NewMap[string, txtypes.ValidationInfo]()}
}

// Register binds a rollup's validation client for later Publish calls.
func (p *Publisher) Register(rollupId string, info txtypes.ValidationInfo, client publishClient) {
	p.info.Insert(rollupId, info)
	p.clients.Insert(rollupId, client)
}

// Publish implements internal/buildblock.ValidationTrigger: it dispatches by
// the rollup's configured service provider.
func (p *Publisher) Publish(ctx context.Context, rollupId string, height uint64, commitment [32]byte) error {
	client, ok := p.clients.Get(rollupId)
	if !ok {
		return xerrors.New(xerrors.KindValidationClient, "validation.Publish", "no validation client registered for rollup")
	}
	info, _ := p.info.Get(rollupId)
	switch info.ServiceProvider {
	case txtypes.ValidationServiceProviderEigenLayer:
		return client.sendOnce(ctx, "submitBlockCommitment", rollupId, height, commitment)
	case txtypes.ValidationServiceProviderSymbiotic:
		return client.sendWithRetry(ctx, "submitBlockCommitment", rollupId, height, commitment)
	default:
		return xerrors.New(xerrors.KindUnsupportedValidationServiceProvider, "validation.Publish", string(info.ServiceProvider))
	}
}

// NewTaskCreated mirrors the validation-service-manager event this node
// subscribes to, per spec.md §4.7.
type NewTaskCreated struct {
	RollupId           string
	ReferenceTaskIndex uint32
	BlockNumber        uint64
}

// TaskCallback subscribes to NewTaskCreated events on a validation contract
// and, for blocks this node did not author locally, responds to the task.
// Grounded on the teacher's pkg/anchor/event_watcher.go poll loop, reused
// here for a contract event rather than a block-height check.
type TaskCallback struct {
	eth          *ethclient.Client
	contractAddr common.Address
	contractABI  abi.ABI
	pollInterval time.Duration
	publisher    *Publisher
	logger       *log.Logger

	// resolve reports the commitment for a (rollupId, blockNumber) the task
	// references, and whether a response is owed at all — a block this node
	// authored locally was already published on the §4.5 cadence and needs
	// no response here.
	resolve func(rollupId string, blockNumber uint64) (commitment [32]byte, needsResponse bool)
}

func NewTaskCallback(rpcUrl string, contractAddr common.Address, publisher *Publisher, logger *log.Logger, resolve func(string, uint64) ([32]byte, bool)) (*TaskCallback, error) {
	eth, err := ethclient.Dial(rpcUrl)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindValidationClient, "validation.NewTaskCallback", err)
	}
	parsed, err := abi.JSON(strings.NewReader(serviceManagerABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindValidationClient, "validation.NewTaskCallback", err)
	}
	return &TaskCallback{eth: eth, contractAddr: contractAddr, contractABI: parsed, pollInterval: 5 * time.Second, publisher: publisher, logger: logger, resolve: resolve}, nil
}

// Run polls for NewTaskCreated logs and dispatches respondToTask for every
// task this node did not author, until ctx is cancelled.
func (c *TaskCallback) Run(ctx context.Context) error {
	topic := c.contractABI.Events["NewTaskCreated"].ID
	var fromBlock uint64

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			latest, err := c.eth.BlockNumber(ctx)
			if err != nil {
				continue
			}
			logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
				Addresses: []common.Address{c.contractAddr},
				Topics:    [][]common.Hash{{topic}},
				FromBlock: big.NewInt(int64(fromBlock)),
				ToBlock:   big.NewInt(int64(latest)),
			})
			if err != nil {
				continue
			}
			for _, l := range logs {
				var task NewTaskCreated
				if err := c.contractABI.UnpackIntoInterface(&task, "NewTaskCreated", l.Data); err != nil {
					continue
				}
				commitment, needsResponse := c.resolve(task.RollupId, task.BlockNumber)
				if !needsResponse {
					continue
				}
				client, ok := c.publisher.clients.Get(task.RollupId)
				if !ok {
					continue
				}
				info, _ := c.publisher.info.Get(task.RollupId)
				var respondErr error
				switch info.ServiceProvider {
				case txtypes.ValidationServiceProviderSymbiotic:
					respondErr = client.sendWithRetry(ctx, "respondToTask", task.RollupId, task.ReferenceTaskIndex, commitment)
				default:
					respondErr = client.sendOnce(ctx, "respondToTask", task.RollupId, task.ReferenceTaskIndex, commitment)
				}
				if respondErr != nil {
					c.logger.Printf("respond to task %d for rollup %s failed: %v", task.ReferenceTaskIndex, task.RollupId, respondErr)
				}
			}
			fromBlock = latest + 1
		}
	}
}
