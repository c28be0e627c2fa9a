package wtxmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	bolt "go.etcd.io/bbolt"
)

// Naming
//
// The following variables are commonly used in this file and given reserved
// names:
//
//   ns: The namespace bucket for this package
//   b:  The primary bucket being operated on
//   k:  A single bucket key
//   v:  A single bucket value
//   c:  A bucket cursor
//
// Functions use the naming scheme `Op[Raw]Type[Field]`, which performs the
// operation `Op` on the type `Type`, optionally dealing with raw keys and
// values if `Raw` is used.  The following operations are used:
//
//   key:     return a db key for some data
//   value:   return a db value for some data
//   put:     insert or replace a value into a bucket
//   fetch:   read and return a value
//   exists:  return the raw (nil if not found) value for some data
//   delete:  remove a k/v pair

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

// This package makes assumptions that the width of a chainhash.Hash is always
// 32 bytes.  If this is ever changed (unlikely for bitcoin, possible for
// alts), offsets have to be rewritten.  Use a compile-time assertion that
// this assumption holds true.
var _ [32]byte = chainhash.Hash{}

const (
	// latestStoreVersion is the most recent store schema version.
	latestStoreVersion = 1
)

// Bucket names
var (
	bucketRecords    = []byte("txrecords")
	bucketSpendIndex = []byte("spendindex")
)

// Root (namespace) bucket keys
var (
	rootCreateDate = []byte("date")
	rootVersion    = []byte("vers")
)

// The transaction record bucket stores one entry per (transaction, address)
// incidence.  The canonical record key is:
//
//   [0:32]  Transaction hash (32 bytes)
//   [32:]   Encoded address (variable)
//
// A transaction's full history is a cursor scan over the 32-byte hash
// prefix.
func keyTxRecord(txHash *chainhash.Hash, addr string) []byte {
	k := make([]byte, chainhash.HashSize+len(addr))
	copy(k, txHash[:])
	copy(k[chainhash.HashSize:], addr)
	return k
}

// The spend index maps a spending transaction to every record it consumed.
// Entries carry no value; the key is:
//
//   [0:32]   Spender transaction hash (32 bytes)
//   [32:64]  Spent record's transaction hash (32 bytes)
//   [64:]    Spent record's encoded address (variable)
func keySpendIndex(spender, spent *chainhash.Hash, addr string) []byte {
	k := make([]byte, 2*chainhash.HashSize+len(addr))
	copy(k, spender[:])
	copy(k[chainhash.HashSize:], spent[:])
	copy(k[2*chainhash.HashSize:], addr)
	return k
}

// valueTxRecord returns the canonical serialization of a transaction record:
//
//   [0:4]    Account (4 bytes)
//   [4:8]    Block height (4 bytes, signed, -1 when unmined)
//   [8:40]   Block hash (32 bytes, all zero when unmined)
//   [40:48]  Received time, unix seconds (8 bytes)
//   [48:56]  Amount (8 bytes, signed)
//   [56:60]  Output index (4 bytes)
//   [60]     Flags (bit 0 coinstake, bit 1 spent)
//
// When the spent flag is set, the serialization continues with the spending
// detail:
//
//   [61:93]  Spender transaction hash (32 bytes)
//   [93:97]  Payment count (4 bytes)
//   For each payment:
//     4 bytes address length || address || 8 bytes amount (signed)
//
// The record always ends with the optional serialized transaction:
//
//   4 bytes length || serialized transaction (zero length when absent)
func valueTxRecord(rec *TxRecord) []byte {
	n := 61
	if rec.SpentBy != nil {
		n += chainhash.HashSize + 4
		for _, p := range rec.SpentBy.Payments {
			n += 4 + len(p.Address) + 8
		}
	}
	n += 4 + len(rec.SerializedTx)

	v := make([]byte, n)
	byteOrder.PutUint32(v[0:4], rec.Account)
	byteOrder.PutUint32(v[4:8], uint32(rec.Height))
	copy(v[8:40], rec.BlockHash[:])
	byteOrder.PutUint64(v[40:48], uint64(rec.Received.Unix()))
	byteOrder.PutUint64(v[48:56], uint64(rec.Amount))
	byteOrder.PutUint32(v[56:60], rec.Index)

	var flags byte
	if rec.CoinStake {
		flags |= 1 << 0
	}
	if rec.SpentBy != nil {
		flags |= 1 << 1
	}
	v[60] = flags

	off := 61
	if rec.SpentBy != nil {
		copy(v[off:off+chainhash.HashSize], rec.SpentBy.SpentBy[:])
		off += chainhash.HashSize
		byteOrder.PutUint32(v[off:off+4],
			uint32(len(rec.SpentBy.Payments)))
		off += 4
		for _, p := range rec.SpentBy.Payments {
			byteOrder.PutUint32(v[off:off+4], uint32(len(p.Address)))
			off += 4
			copy(v[off:off+len(p.Address)], p.Address)
			off += len(p.Address)
			byteOrder.PutUint64(v[off:off+8], uint64(p.Amount))
			off += 8
		}
	}
	byteOrder.PutUint32(v[off:off+4], uint32(len(rec.SerializedTx)))
	off += 4
	copy(v[off:], rec.SerializedTx)
	return v
}

// readTxRecord deserializes a transaction record value into the out
// parameter.  The record key supplies the transaction hash and address.
func readTxRecord(k, v []byte, rec *TxRecord) error {
	if len(k) < chainhash.HashSize || len(v) < 61 {
		str := "malformed transaction record"
		return storeError(ErrData, str, nil)
	}
	copy(rec.Hash[:], k[0:chainhash.HashSize])
	rec.Address = string(k[chainhash.HashSize:])

	rec.Account = byteOrder.Uint32(v[0:4])
	rec.Height = int32(byteOrder.Uint32(v[4:8]))
	copy(rec.BlockHash[:], v[8:40])
	rec.Received = time.Unix(int64(byteOrder.Uint64(v[40:48])), 0)
	rec.Amount = btcutil.Amount(byteOrder.Uint64(v[48:56]))
	rec.Index = byteOrder.Uint32(v[56:60])

	flags := v[60]
	rec.CoinStake = flags&(1<<0) != 0
	spent := flags&(1<<1) != 0

	off := 61
	rec.SpentBy = nil
	if spent {
		if len(v) < off+chainhash.HashSize+4 {
			str := "malformed spending detail"
			return storeError(ErrData, str, nil)
		}
		detail := new(SpendingDetail)
		copy(detail.SpentBy[:], v[off:off+chainhash.HashSize])
		off += chainhash.HashSize
		count := byteOrder.Uint32(v[off : off+4])
		off += 4
		detail.Payments = make([]Payment, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(v) < off+4 {
				str := "malformed payment"
				return storeError(ErrData, str, nil)
			}
			addrLen := int(byteOrder.Uint32(v[off : off+4]))
			off += 4
			if len(v) < off+addrLen+8 {
				str := "malformed payment"
				return storeError(ErrData, str, nil)
			}
			detail.Payments = append(detail.Payments, Payment{
				Address: string(v[off : off+addrLen]),
				Amount: btcutil.Amount(byteOrder.Uint64(
					v[off+addrLen : off+addrLen+8])),
			})
			off += addrLen + 8
		}
		rec.SpentBy = detail
	}

	if len(v) < off+4 {
		str := "malformed serialized transaction"
		return storeError(ErrData, str, nil)
	}
	txLen := int(byteOrder.Uint32(v[off : off+4]))
	off += 4
	if len(v) < off+txLen {
		str := "malformed serialized transaction"
		return storeError(ErrData, str, nil)
	}
	rec.SerializedTx = nil
	if txLen > 0 {
		rec.SerializedTx = make([]byte, txLen)
		copy(rec.SerializedTx, v[off:off+txLen])
	}
	return nil
}

// existsRawTxRecord returns the raw record value keyed by the transaction
// hash and address, or nil when no such record is stored.
func existsRawTxRecord(ns *bolt.Bucket, txHash *chainhash.Hash, addr string) []byte {
	return ns.Bucket(bucketRecords).Get(keyTxRecord(txHash, addr))
}

// putRawTxRecord stores a serialized record under the given key.
func putRawTxRecord(ns *bolt.Bucket, k, v []byte) error {
	err := ns.Bucket(bucketRecords).Put(k, v)
	if err != nil {
		str := fmt.Sprintf("failed to store transaction record %x", k)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// fetchTxRecord loads the record stored for the transaction and address.
func fetchTxRecord(ns *bolt.Bucket, txHash *chainhash.Hash, addr string) (*TxRecord, error) {
	k := keyTxRecord(txHash, addr)
	v := ns.Bucket(bucketRecords).Get(k)
	if v == nil {
		str := fmt.Sprintf("no record for transaction %v address %s",
			txHash, addr)
		return nil, storeError(ErrNoExists, str, nil)
	}
	rec := new(TxRecord)
	if err := readTxRecord(k, v, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// forEachTxRecord calls fn for each record whose transaction hash matches
// txHash, in address order.
func forEachTxRecord(ns *bolt.Bucket, txHash *chainhash.Hash,
	fn func(rec *TxRecord) error) error {

	c := ns.Bucket(bucketRecords).Cursor()
	for k, v := c.Seek(txHash[:]); k != nil && bytes.HasPrefix(k, txHash[:]); k, v = c.Next() {
		rec := new(TxRecord)
		if err := readTxRecord(k, v, rec); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// forEachRecord calls fn for each record in the store.
func forEachRecord(ns *bolt.Bucket, fn func(rec *TxRecord) error) error {
	return ns.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
		rec := new(TxRecord)
		if err := readTxRecord(k, v, rec); err != nil {
			return err
		}
		return fn(rec)
	})
}

// putSpendIndex records that spender consumed the record identified by
// (spent, addr).
func putSpendIndex(ns *bolt.Bucket, spender, spent *chainhash.Hash, addr string) error {
	err := ns.Bucket(bucketSpendIndex).Put(
		keySpendIndex(spender, spent, addr), nil)
	if err != nil {
		str := fmt.Sprintf("failed to index spend by %v", spender)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// forEachSpendIndex calls fn with the transaction hash and address of every
// record consumed by the spender transaction.
func forEachSpendIndex(ns *bolt.Bucket, spender *chainhash.Hash,
	fn func(spent *chainhash.Hash, addr string) error) error {

	c := ns.Bucket(bucketSpendIndex).Cursor()
	for k, _ := c.Seek(spender[:]); k != nil && bytes.HasPrefix(k, spender[:]); k, _ = c.Next() {
		if len(k) < 2*chainhash.HashSize {
			str := "malformed spend index key"
			return storeError(ErrData, str, nil)
		}
		var spent chainhash.Hash
		copy(spent[:], k[chainhash.HashSize:2*chainhash.HashSize])
		addr := string(k[2*chainhash.HashSize:])
		if err := fn(&spent, addr); err != nil {
			return err
		}
	}
	return nil
}

// fetchStoreVersion fetches the current store schema version.
func fetchStoreVersion(ns *bolt.Bucket) (uint32, error) {
	v := ns.Get(rootVersion)
	if len(v) != 4 {
		str := "required version number not stored in database"
		return 0, storeError(ErrData, str, nil)
	}
	return byteOrder.Uint32(v), nil
}

// createStoreNS creates the namespace buckets and metadata for the store.
func createStoreNS(ns *bolt.Bucket) error {
	for _, bucketName := range [][]byte{bucketRecords, bucketSpendIndex} {
		_, err := ns.CreateBucket(bucketName)
		if err != nil {
			str := fmt.Sprintf("failed to create %s bucket",
				bucketName)
			return storeError(ErrDatabase, str, err)
		}
	}

	v := make([]byte, 8)
	byteOrder.PutUint64(v, uint64(time.Now().Unix()))
	if err := ns.Put(rootCreateDate, v); err != nil {
		str := "failed to store database creation time"
		return storeError(ErrDatabase, str, err)
	}

	v = make([]byte, 4)
	byteOrder.PutUint32(v, latestStoreVersion)
	if err := ns.Put(rootVersion, v); err != nil {
		str := "failed to store database version"
		return storeError(ErrDatabase, str, err)
	}
	return nil
}
