package indexer

// UnspentOutput is one spendable output reported by the explorer for an
// address
type UnspentOutput struct {
	TxID   string `json:"tx_hash"`
	Vout   uint32 `json:"tx_pos"`
	Height uint32 `json:"height"`
	Value  uint64 `json:"value"`
}

// TransactionDetail is the explorer's metadata view of a transaction.
// Confirmations and BlockHeight are zero for mempool transactions.
type TransactionDetail struct {
	TxID          string `json:"txid"`
	BlockHash     string `json:"blockhash,omitempty"`
	BlockHeight   uint32 `json:"blockheight,omitempty"`
	Confirmations int64  `json:"confirmations,omitempty"`
}

// CompactProof is the explorer's flat proof format for one transaction:
// its position in the block plus one sibling hash per tree level, where
// "*" means "duplicate the working hash at this level"
type CompactProof struct {
	Index uint64   `json:"index"`
	Nodes []string `json:"nodes"`
}
