package relay

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxSigner signs the relayer's own execution transactions. The relayer pays
// gas; the payer only signs the permit.
type TxSigner interface {
	// Address returns the account that sends execution transactions.
	Address() common.Address

	// SignTx signs tx for the given chain.
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}
