package indexer

import (
	"context"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/sirdeggen/bsv-overlay-skill/proofs"
)

// SourceChain fetches a transaction and walks its first input's source
// transactions until it reaches a confirmed ancestor, attaching a
// reconstructed merkle path there. The returned transaction carries the
// whole chain through SourceTransaction links, matching the shape the
// chain cache reconstructs from disk.
//
// maxDepth bounds the walk; a chain that never reaches a confirmed
// ancestor within the bound is returned as-is, without a proof.
func (c *Client) SourceChain(ctx context.Context, txid string, maxDepth int) (*transaction.Transaction, error) {
	tip, err := c.RawTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}

	cur := tip
	curID := txid
	for depth := 0; depth < maxDepth; depth++ {
		detail, err := c.Transaction(ctx, curID)
		if err != nil {
			return nil, err
		}

		if detail.Confirmations > 0 && detail.BlockHeight > 0 {
			compact, err := c.Proof(ctx, curID)
			if err != nil {
				return nil, err
			}
			path, err := proofs.Reconstruct(cur.TxID(), compact.Index, compact.Nodes, detail.BlockHeight)
			if err != nil {
				return nil, err
			}
			cur.MerklePath = path
			return tip, nil
		}

		if len(cur.Inputs) == 0 || cur.Inputs[0].SourceTXID == nil {
			return nil, fmt.Errorf("unconfirmed tx %s has no source input to walk", curID)
		}

		parentID := cur.Inputs[0].SourceTXID.String()
		parent, err := c.RawTransaction(ctx, parentID)
		if err != nil {
			return nil, err
		}
		cur.Inputs[0].SourceTransaction = parent

		cur = parent
		curID = parentID
	}

	c.logger.Warn("no confirmed ancestor within depth bound", "txid", txid, "depth", maxDepth)
	return tip, nil
}
