package proofs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// DuplicateMarker is the explorer's placeholder for "duplicate the working
// hash at this level", used when a subtree has an odd node count.
const DuplicateMarker = "*"

// ErrMalformedProof indicates the explorer returned compact proof data that
// cannot be expanded into a merkle path
var ErrMalformedProof = errors.New("malformed proof")

// Reconstruct expands a compact TSC-style proof (flat list of sibling
// hashes, one per tree level) into a full merkle path for SPV verification.
//
// Level 0 carries exactly two entries: the subject transaction (flagged as
// the txid under proof) and its direct sibling, sorted by offset. Every
// higher level carries the single sibling needed on the way to the root.
//
// The function is pure and deterministic: the same inputs always produce a
// byte-identical path, which lets proofs built here be compared and
// re-verified without normalization.
func Reconstruct(subject *chainhash.Hash, subjectIndex uint64, siblingNodes []string, blockHeight uint32) (*transaction.MerklePath, error) {
	if subject == nil {
		return nil, fmt.Errorf("%w: missing subject txid", ErrMalformedProof)
	}
	if len(siblingNodes) == 0 {
		return nil, fmt.Errorf("%w: empty sibling node list", ErrMalformedProof)
	}

	path := make([][]*transaction.PathElement, len(siblingNodes))

	sibling, err := newElement(subjectIndex^1, siblingNodes[0])
	if err != nil {
		return nil, err
	}

	level0 := []*transaction.PathElement{
		{
			Offset: subjectIndex,
			Hash:   subject,
			Txid:   boolRef(true),
		},
		sibling,
	}
	sort.Slice(level0, func(i, j int) bool {
		return level0[i].Offset < level0[j].Offset
	})
	path[0] = level0

	for level := 1; level < len(siblingNodes); level++ {
		el, err := newElement((subjectIndex>>uint(level))^1, siblingNodes[level])
		if err != nil {
			return nil, err
		}
		path[level] = []*transaction.PathElement{el}
	}

	return transaction.NewMerklePath(blockHeight, path), nil
}

// newElement builds one path element from a compact node entry, which is
// either a hex txid or the duplicate marker
func newElement(offset uint64, node string) (*transaction.PathElement, error) {
	if node == DuplicateMarker {
		return &transaction.PathElement{
			Offset:    offset,
			Duplicate: boolRef(true),
		}, nil
	}

	hash, err := chainhash.NewHashFromHex(node)
	if err != nil {
		return nil, fmt.Errorf("%w: bad sibling hash %q: %v", ErrMalformedProof, node, err)
	}

	return &transaction.PathElement{
		Offset: offset,
		Hash:   hash,
	}, nil
}

func boolRef(b bool) *bool {
	return &b
}
