package waddrmgr

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DefaultAccountNum is the number of the default account.
const DefaultAccountNum = 0

// defaultAccountName is the initial name of the default account.  Unlike
// other accounts, the default account may never be renamed.
const defaultAccountName = "default"

// ManagedAddress is the wallet's view of a single address it controls.  The
// address string itself was generated externally and imported into the pool;
// the manager only tracks ownership metadata.
type ManagedAddress struct {
	// Address is the encoded payment address.
	Address string

	// Account is the account the address belongs to.  An address belongs
	// to exactly one account.
	Account uint32

	// Internal marks an address generated by the wallet itself to receive
	// change from its own outgoing transactions.  Internal addresses are
	// never handed to counterparties.
	Internal bool

	// Used marks an address which has been handed out by NextFreeAddress
	// or observed in the ledger.
	Used bool

	// Index is the position of the address within the imported pool.  The
	// pool is consumed in index order.
	Index uint64
}

// BlockStamp defines a block (by height and a unique hash) and is used to
// mark a point in the blockchain the address manager is synced to.
type BlockStamp struct {
	Height    int32
	Hash      chainhash.Hash
	Timestamp time.Time
}

// AccountInfo describes an account known to the manager.
type AccountInfo struct {
	AccountNumber uint32
	AccountName   string
}
