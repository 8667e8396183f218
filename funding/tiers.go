package funding

import (
	"context"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"

	"github.com/sirdeggen/bsv-overlay-skill/chaincache"
	"github.com/sirdeggen/bsv-overlay-skill/indexer"
)

// CacheTier spends the locally cached frontier. It never touches the
// network: the frontier carries its own ancestry.
type CacheTier struct {
	Cache *chaincache.Cache
}

// Name identifies the tier in logs
func (t *CacheTier) Name() string { return "cached-frontier" }

// Resolve reconstructs the cached frontier if it covers the amount.
// A frontier that no longer reconstructs (stale or corrupt snapshot) is
// cleared so later invocations skip straight to the indexer.
func (t *CacheTier) Resolve(ctx context.Context, satoshis uint64) (*Input, error) {
	frontier := t.Cache.Load(ctx)
	if frontier == nil {
		return nil, nil
	}
	if frontier.Satoshis < satoshis {
		return nil, fmt.Errorf("cached frontier holds %d sat, need %d", frontier.Satoshis, satoshis)
	}

	tip, err := t.Cache.Reconstruct(frontier)
	if err != nil {
		t.Cache.Clear(ctx)
		return nil, fmt.Errorf("stale frontier cleared: %w", err)
	}

	return &Input{Tx: tip, Vout: frontier.Vout, Satoshis: frontier.Satoshis}, nil
}

// IndexerTier queries the explorer for an unspent output on the owning
// address and rebuilds its proof chain over the network.
type IndexerTier struct {
	Client  *indexer.Client
	Address *script.Address
}

// Name identifies the tier in logs
func (t *IndexerTier) Name() string { return "indexer-utxo" }

// Resolve picks the first unspent output covering the amount and walks its
// ancestry to a confirmed, proven transaction
func (t *IndexerTier) Resolve(ctx context.Context, satoshis uint64) (*Input, error) {
	utxos, err := t.Client.Unspent(ctx, t.Address.AddressString)
	if err != nil {
		return nil, err
	}

	for _, utxo := range utxos {
		if utxo.Value < satoshis {
			continue
		}

		chain, err := t.Client.SourceChain(ctx, utxo.TxID, chaincache.MaxAncestorDepth)
		if err != nil {
			return nil, err
		}
		return &Input{Tx: chain, Vout: utxo.Vout, Satoshis: utxo.Value}, nil
	}

	return nil, fmt.Errorf("no unspent output covers %d sat", satoshis)
}

// WalletTier delegates to the external wallet collaborator
type WalletTier struct {
	Wallet Wallet
}

// Name identifies the tier in logs
func (t *WalletTier) Name() string { return "wallet" }

// Resolve asks the wallet for a spendable input
func (t *WalletTier) Resolve(ctx context.Context, satoshis uint64) (*Input, error) {
	if t.Wallet == nil {
		return nil, nil
	}
	return t.Wallet.FundInput(ctx, satoshis)
}

// SyntheticTier fabricates a self-funding transaction with a forged merkle
// proof. It exists only for protocol-compliance testing against permissive
// test servers and refuses to run on mainnet unless explicitly overridden.
type SyntheticTier struct {
	Network       string
	AllowOverride bool
	Key           *ec.PrivateKey
	ForgedHeight  uint32 // claimed block height of the forged proof
	SurplusSats   uint64 // extra satoshis minted above the requested amount
}

// Name identifies the tier in logs
func (t *SyntheticTier) Name() string { return "synthetic" }

// Resolve mints a fake funding output to the owning key
func (t *SyntheticTier) Resolve(ctx context.Context, satoshis uint64) (*Input, error) {
	if t.Network == NetworkMain && !t.AllowOverride {
		return nil, ErrSyntheticDisallowed
	}

	addr, err := script.NewAddressFromPublicKey(t.Key.PubKey(), t.Network == NetworkMain)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %w", err)
	}
	lock, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to build locking script: %w", err)
	}

	surplus := t.SurplusSats
	if surplus == 0 {
		surplus = 1000
	}

	fundTx := transaction.NewTransaction()
	fundTx.AddOutput(&transaction.TransactionOutput{
		Satoshis:      satoshis + surplus,
		LockingScript: lock,
	})
	fundTx.MerklePath = forgedProof(fundTx.TxID(), t.ForgedHeight)

	return &Input{Tx: fundTx, Vout: 0, Satoshis: satoshis + surplus}, nil
}

// forgedProof pins txid as the sole leaf of a fabricated single-level tree
func forgedProof(txid *chainhash.Hash, height uint32) *transaction.MerklePath {
	isTxid := true
	isDup := true
	return transaction.NewMerklePath(height, [][]*transaction.PathElement{{
		{Offset: 0, Hash: txid, Txid: &isTxid},
		{Offset: 1, Duplicate: &isDup},
	}})
}
