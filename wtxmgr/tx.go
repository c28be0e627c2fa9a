package wtxmgr

import (
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	bolt "go.etcd.io/bbolt"

	"github.com/stakesuite/stakewallet/netparams"
)

// UnminedHeight is the height used for records which have not yet been
// included in a block.
const UnminedHeight int32 = -1

// Unconfirmed is the sentinel confirmation count of a record which has not
// yet been included in a block.  Confirmation counts are always derived,
// never stored.
const Unconfirmed int32 = -1

// Confirms returns the number of confirmations for a transaction in a block
// at height txHeight (or Unconfirmed for an unmined transaction) given the
// chain height curHeight.  A transaction in the current tip block has zero
// confirmations.
func Confirms(txHeight, curHeight int32) int32 {
	switch {
	case txHeight == UnminedHeight, txHeight > curHeight:
		return Unconfirmed
	default:
		return curHeight - txHeight
	}
}

// Block contains the minimum amount of data to uniquely identify any block
// on either the best or side chain.
type Block struct {
	Hash   chainhash.Hash
	Height int32
}

// BlockMeta contains the unique identification for a block and any metadata
// pertaining to the block.  At the moment, this additional metadata only
// includes the block time from the block header.
type BlockMeta struct {
	Block
	Time time.Time
}

// Payment is a single output of a spending transaction: the destination
// address together with the amount paid to it.
type Payment struct {
	Address string
	Amount  btcutil.Amount
}

// SpendingDetail is attached to a transaction record once its funds have
// been consumed by a later transaction.  It names the spender and carries
// the payments that spend made.  For a change-address record this is the
// only place the true outgoing transfer can be recovered from, since the
// record's own amount reflects just the value returned to the wallet.
type SpendingDetail struct {
	// SpentBy is the hash of the transaction that consumed the record.
	SpentBy chainhash.Hash

	// Payments are the outputs of the spending transaction.
	Payments []Payment
}

// TxRecord represents the effect one transaction had on one address of an
// account, as recorded when the transaction was observed.  Records are
// created by the ledger as blocks and transactions arrive and are never
// mutated afterwards except to attach a SpendingDetail.
type TxRecord struct {
	// Hash is the transaction hash.  Together with Address it forms the
	// record's stable identity.
	Hash chainhash.Hash

	// Address is the encoded address the effect was recorded against.
	Address string

	// Account the owning address belongs to.
	Account uint32

	// Amount is the signed effect on the address in the minimal currency
	// unit.
	Amount btcutil.Amount

	// Height is the height of the block containing the transaction, or
	// UnminedHeight when it has not been mined yet.
	Height int32

	// BlockHash is the hash of the containing block.  It is all zero
	// when the record is unmined.
	BlockHash chainhash.Hash

	// Received is the time the transaction was observed.
	Received time.Time

	// SerializedTx is the serialized transaction.  Optional: may be nil.
	SerializedTx []byte

	// CoinStake marks a proof-of-stake block reward transaction.
	CoinStake bool

	// Index is the output index the record was observed at.
	Index uint32

	// SpentBy is set once the record's funds were consumed by a later
	// transaction.  A record with a nil SpentBy is spendable.
	SpentBy *SpendingDetail
}

// Mined returns whether the record has been included in a block.
func (r *TxRecord) Mined() bool {
	return r.Height != UnminedHeight
}

// AccountHistory pairs an address with a transaction record observed at it.
type AccountHistory struct {
	Address string
	Record  *TxRecord
}

// Credit is a spendable transaction record together with its derived
// confirmation count.
type Credit struct {
	TxRecord
	Confirmations int32
}

// Balances groups the spendable-amount aggregates of one account.
type Balances struct {
	// Total is the sum of all confirmed spendable records.
	Total btcutil.Amount

	// Mature is the portion of Total with at least the coinbase maturity
	// depth of confirmations.
	Mature btcutil.Amount

	// Immature is the portion of Total which is confirmed but has not
	// reached the maturity depth yet.  Total = Mature + Immature.
	Immature btcutil.Amount

	// Unconfirmed is the sum of spendable records which have not been
	// mined yet.  It is not part of Total.
	Unconfirmed btcutil.Amount
}

// Store implements the account transaction ledger over a namespace bucket of
// the wallet database.  It holds no mutable state of its own: every method
// is a pure read or write against the passed namespace, so concurrent
// callers are serialized solely by the database transaction they run in.
type Store struct {
	chainParams *netparams.Params
}

// DoUpgrades performs any necessary upgrades to the transaction store.  At
// the moment only a version check is required.
func DoUpgrades(ns *bolt.Bucket) error {
	version, err := fetchStoreVersion(ns)
	if err != nil {
		return err
	}
	if version > latestStoreVersion {
		str := fmt.Sprintf("unknown transaction store version %d",
			version)
		return storeError(ErrUnknownVersion, str, nil)
	}
	return nil
}

// Create creates a new persistent transaction store in the passed namespace.
func Create(ns *bolt.Bucket) error {
	if ns.Get(rootVersion) != nil {
		str := "transaction store already exists"
		return storeError(ErrDatabase, str, nil)
	}
	return createStoreNS(ns)
}

// Open opens the store from the passed namespace.
func Open(ns *bolt.Bucket, chainParams *netparams.Params) (*Store, error) {
	if ns.Get(rootVersion) == nil {
		str := "the specified transaction store does not exist"
		return nil, storeError(ErrNoExists, str, nil)
	}
	if err := DoUpgrades(ns); err != nil {
		return nil, err
	}
	return &Store{chainParams: chainParams}, nil
}

// PutTxRecord inserts a new record into the store.  Record identity is the
// (transaction hash, address) pair; inserting a second record with the same
// identity fails with ErrDuplicate.
func (s *Store) PutTxRecord(ns *bolt.Bucket, rec *TxRecord) error {
	if rec.Address == "" {
		str := "transaction record requires an address"
		return storeError(ErrInput, str, nil)
	}
	if existsRawTxRecord(ns, &rec.Hash, rec.Address) != nil {
		str := fmt.Sprintf("record for transaction %v address %s "+
			"already exists", rec.Hash, rec.Address)
		return storeError(ErrDuplicate, str, nil)
	}

	err := putRawTxRecord(ns, keyTxRecord(&rec.Hash, rec.Address),
		valueTxRecord(rec))
	if err != nil {
		return err
	}
	if rec.SpentBy != nil {
		return putSpendIndex(ns, &rec.SpentBy.SpentBy, &rec.Hash,
			rec.Address)
	}
	return nil
}

// AddSpendingDetail attaches the spending detail to an existing record,
// marking it spent.  Attaching a second detail to an already spent record
// fails with ErrDuplicate.
func (s *Store) AddSpendingDetail(ns *bolt.Bucket, txHash *chainhash.Hash,
	addr string, detail *SpendingDetail) error {

	rec, err := fetchTxRecord(ns, txHash, addr)
	if err != nil {
		return err
	}
	if rec.SpentBy != nil {
		str := fmt.Sprintf("record for transaction %v address %s is "+
			"already spent", txHash, addr)
		return storeError(ErrDuplicate, str, nil)
	}

	rec.SpentBy = detail
	err = putRawTxRecord(ns, keyTxRecord(txHash, addr), valueTxRecord(rec))
	if err != nil {
		return err
	}
	return putSpendIndex(ns, &detail.SpentBy, txHash, addr)
}

// HistoryForTx returns every history entry of the account matching the
// given transaction hash, in address order.  An empty result means the
// transaction is not relevant to the account.
func (s *Store) HistoryForTx(ns *bolt.Bucket, account uint32,
	txHash *chainhash.Hash) ([]AccountHistory, error) {

	var history []AccountHistory
	err := forEachTxRecord(ns, txHash, func(rec *TxRecord) error {
		if rec.Account != account {
			return nil
		}
		history = append(history, AccountHistory{
			Address: rec.Address,
			Record:  rec,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// RecordsBySpendingTx returns every record of the account whose funds were
// consumed by the given spending transaction.
func (s *Store) RecordsBySpendingTx(ns *bolt.Bucket, account uint32,
	spender *chainhash.Hash) ([]*TxRecord, error) {

	var recs []*TxRecord
	err := forEachSpendIndex(ns, spender,
		func(spent *chainhash.Hash, addr string) error {
			rec, err := fetchTxRecord(ns, spent, addr)
			if err != nil {
				return err
			}
			if rec.Account != account {
				return nil
			}
			recs = append(recs, rec)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// SpendableCredits returns the account's spendable records whose derived
// confirmation count lies within [minConf, maxConf], together with those
// counts.  Unmined records carry the Unconfirmed sentinel and are therefore
// only returned for a negative minConf.
func (s *Store) SpendableCredits(ns *bolt.Bucket, account uint32,
	minConf, maxConf, chainHeight int32) ([]Credit, error) {

	var credits []Credit
	err := forEachRecord(ns, func(rec *TxRecord) error {
		if rec.Account != account || rec.SpentBy != nil {
			return nil
		}
		confs := Confirms(rec.Height, chainHeight)
		if confs < minConf || confs > maxConf {
			return nil
		}
		credits = append(credits, Credit{
			TxRecord:      *rec,
			Confirmations: confs,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credits, nil
}

// Balance returns the sum of the account's spendable record amounts with at
// least minConf confirmations.
func (s *Store) Balance(ns *bolt.Bucket, account uint32, minConf,
	chainHeight int32) (btcutil.Amount, error) {

	credits, err := s.SpendableCredits(ns, account, minConf,
		math.MaxInt32, chainHeight)
	if err != nil {
		return 0, err
	}
	var bal btcutil.Amount
	for i := range credits {
		bal += credits[i].Amount
	}
	return bal, nil
}

// AccountBalances walks the account's spendable records once and returns
// the total/mature/immature/unconfirmed aggregates.  Maturity is the
// network's coinbase maturity depth.
func (s *Store) AccountBalances(ns *bolt.Bucket, account uint32,
	chainHeight int32) (Balances, error) {

	maturity := int32(s.chainParams.CoinbaseMaturity)

	var bals Balances
	err := forEachRecord(ns, func(rec *TxRecord) error {
		if rec.Account != account || rec.SpentBy != nil {
			return nil
		}
		confs := Confirms(rec.Height, chainHeight)
		switch {
		case confs == Unconfirmed:
			bals.Unconfirmed += rec.Amount
		case confs >= maturity:
			bals.Total += rec.Amount
			bals.Mature += rec.Amount
		default:
			bals.Total += rec.Amount
			bals.Immature += rec.Amount
		}
		return nil
	})
	if err != nil {
		return Balances{}, err
	}
	return bals, nil
}
