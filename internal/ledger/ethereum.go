package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const submitGasLimit = 200_000

// EthereumClient writes attestation payloads as calldata of signed
// transactions to the attestation registry contract. One signing key per
// server instance; Submit serializes on the nonce so concurrent attestations
// do not race each other out of the mempool.
type EthereumClient struct {
	eth      *ethclient.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	signer   types.Signer
	logger   *slog.Logger

	mu sync.Mutex // guards nonce acquisition + send
}

func NewEthereumClient(rpcURL, privateKeyHex, contractAddr string, chainID int64, logger *slog.Logger) (*EthereumClient, error) {
	if rpcURL == "" {
		return nil, errors.New("ledger rpc url is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger private key: %w", err)
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid ledger contract address %q", contractAddr)
	}

	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	id := big.NewInt(chainID)
	return &EthereumClient{
		eth:      eth,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(contractAddr),
		chainID:  id,
		signer:   types.LatestSignerForChainID(id),
		logger:   logger,
	}, nil
}

func (c *EthereumClient) Submit(ctx context.Context, payload []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      submitGasLimit,
		GasPrice: gasPrice,
		Data:     payload,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return "", fmt.Errorf("sign attestation tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send attestation tx: %w", err)
	}

	txRef := signed.Hash().Hex()
	c.logger.Info("attestation submitted to ledger", "tx", txRef, "nonce", nonce)
	return txRef, nil
}

func (c *EthereumClient) Confirmations(ctx context.Context, txRef string) (uint64, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txRef))
	if errors.Is(err, ethereum.NotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("transaction receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return 0, fmt.Errorf("transaction %s reverted", txRef)
	}

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined {
		return 0, nil
	}
	return head - mined + 1, nil
}

func (c *EthereumClient) Close() {
	c.eth.Close()
}
