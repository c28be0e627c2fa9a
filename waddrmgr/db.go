package waddrmgr

import (
	"encoding/binary"
	"fmt"
	"time"

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
// values if `Raw` is used.

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

const (
	// latestMgrVersion is the most recent manager schema version.
	latestMgrVersion = 1
)

// Bucket names
var (
	acctBucketName    = []byte("acct")
	addrBucketName    = []byte("addr")
	addrIdxBucketName = []byte("addridx")
	mainBucketName    = []byte("main")
	syncBucketName    = []byte("sync")
)

// Main bucket keys
var (
	mgrCreateDateName    = []byte("mgrcreated")
	mgrVersionName       = []byte("mgrver")
	masterPrivParamsName = []byte("mkeyprivparams")
	cryptoPrivKeyName    = []byte("cpriv")
	seedEncName          = []byte("seedenc")
	syncedToName         = []byte("syncedto")
)

// uint32ToBytes converts a 32 bit unsigned integer into a 4-byte slice in
// big-endian order: 1 -> [0 0 0 1].
func uint32ToBytes(number uint32) []byte {
	buf := make([]byte, 4)
	byteOrder.PutUint32(buf, number)
	return buf
}

// uint64ToBytes converts a 64 bit unsigned integer into a 8-byte slice in
// big-endian order: 1 -> [0 0 0 0 0 0 0 1].
func uint64ToBytes(number uint64) []byte {
	buf := make([]byte, 8)
	byteOrder.PutUint64(buf, number)
	return buf
}

// fetchManagerVersion fetches the current manager schema version from the
// database.
func fetchManagerVersion(ns *bolt.Bucket) (uint32, error) {
	mainBucket := ns.Bucket(mainBucketName)
	verBytes := mainBucket.Get(mgrVersionName)
	if len(verBytes) != 4 {
		str := "required version number not stored in database"
		return 0, managerError(ErrDatabase, str, nil)
	}
	return byteOrder.Uint32(verBytes), nil
}

// putManagerVersion stores the provided version to the database.
func putManagerVersion(ns *bolt.Bucket, version uint32) error {
	bucket := ns.Bucket(mainBucketName)
	err := bucket.Put(mgrVersionName, uint32ToBytes(version))
	if err != nil {
		str := "failed to store version"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchMasterKeyParams loads the master key parameters needed to derive the
// key that protects the crypto private key.  The returned value is the
// marshalled snacl parameter blob.
func fetchMasterKeyParams(ns *bolt.Bucket) ([]byte, error) {
	bucket := ns.Bucket(mainBucketName)
	val := bucket.Get(masterPrivParamsName)
	if val == nil {
		str := "required master private key parameters not stored in " +
			"database"
		return nil, managerError(ErrDatabase, str, nil)
	}
	params := make([]byte, len(val))
	copy(params, val)
	return params, nil
}

// putMasterKeyParams stores the master key parameters needed to derive them
// to the database.
func putMasterKeyParams(ns *bolt.Bucket, privParams []byte) error {
	bucket := ns.Bucket(mainBucketName)
	err := bucket.Put(masterPrivParamsName, privParams)
	if err != nil {
		str := "failed to store master private key parameters"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchCryptoPrivKey loads the encrypted crypto private key from the
// database.
func fetchCryptoPrivKey(ns *bolt.Bucket) ([]byte, error) {
	bucket := ns.Bucket(mainBucketName)
	val := bucket.Get(cryptoPrivKeyName)
	if val == nil {
		str := "required encrypted crypto private key not stored in " +
			"database"
		return nil, managerError(ErrDatabase, str, nil)
	}
	key := make([]byte, len(val))
	copy(key, val)
	return key, nil
}

// putCryptoPrivKey stores the encrypted crypto private key to the database.
func putCryptoPrivKey(ns *bolt.Bucket, privKeyEncrypted []byte) error {
	bucket := ns.Bucket(mainBucketName)
	err := bucket.Put(cryptoPrivKeyName, privKeyEncrypted)
	if err != nil {
		str := "failed to store encrypted crypto private key"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchSeedEnc loads the encrypted wallet seed from the database.
func fetchSeedEnc(ns *bolt.Bucket) ([]byte, error) {
	bucket := ns.Bucket(mainBucketName)
	val := bucket.Get(seedEncName)
	if val == nil {
		str := "required encrypted seed not stored in database"
		return nil, managerError(ErrDatabase, str, nil)
	}
	seedEnc := make([]byte, len(val))
	copy(seedEnc, val)
	return seedEnc, nil
}

// putSeedEnc stores the encrypted wallet seed to the database.
func putSeedEnc(ns *bolt.Bucket, seedEnc []byte) error {
	bucket := ns.Bucket(mainBucketName)
	err := bucket.Put(seedEncName, seedEnc)
	if err != nil {
		str := "failed to store encrypted seed"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchAccountName retrieves the account name given an account number.
func fetchAccountName(ns *bolt.Bucket, account uint32) (string, error) {
	bucket := ns.Bucket(acctBucketName)
	v := bucket.Get(uint32ToBytes(account))
	if v == nil {
		str := fmt.Sprintf("account %d not found", account)
		return "", managerError(ErrAccountNotFound, str, nil)
	}
	return string(v), nil
}

// putAccountName stores the account number to name mapping.
func putAccountName(ns *bolt.Bucket, account uint32, name string) error {
	bucket := ns.Bucket(acctBucketName)
	err := bucket.Put(uint32ToBytes(account), []byte(name))
	if err != nil {
		str := fmt.Sprintf("failed to store account %d", account)
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchFirstAccount returns the lowest-numbered account stored in the
// database.  The ordering is a property of big-endian keys and bolt's sorted
// cursors.
func fetchFirstAccount(ns *bolt.Bucket) (uint32, error) {
	c := ns.Bucket(acctBucketName).Cursor()
	k, _ := c.First()
	if k == nil {
		str := "no accounts stored in database"
		return 0, managerError(ErrAccountNotFound, str, nil)
	}
	return byteOrder.Uint32(k), nil
}

// forEachAccount calls the given function with each account stored in the
// database, in account number order.
func forEachAccount(ns *bolt.Bucket, fn func(account uint32, name string) error) error {
	return ns.Bucket(acctBucketName).ForEach(func(k, v []byte) error {
		return fn(byteOrder.Uint32(k), string(v))
	})
}

// serializeAddressRow returns the serialization of an address row.
//
// The serialized format is:
//
//   <account><index><flags>
//
//   4 bytes account + 8 bytes pool index + 1 byte flags
//
// Flag bit 0 marks an internal (change) address, bit 1 marks a used address.
func serializeAddressRow(addr *ManagedAddress) []byte {
	v := make([]byte, 13)
	byteOrder.PutUint32(v[0:4], addr.Account)
	byteOrder.PutUint64(v[4:12], addr.Index)
	var flags byte
	if addr.Internal {
		flags |= 1 << 0
	}
	if addr.Used {
		flags |= 1 << 1
	}
	v[12] = flags
	return v
}

// deserializeAddressRow deserializes an address row into the out parameter.
func deserializeAddressRow(encoded string, v []byte, addr *ManagedAddress) error {
	if len(v) != 13 {
		str := fmt.Sprintf("malformed serialized address for %s",
			encoded)
		return managerError(ErrDatabase, str, nil)
	}
	addr.Address = encoded
	addr.Account = byteOrder.Uint32(v[0:4])
	addr.Index = byteOrder.Uint64(v[4:12])
	addr.Internal = v[12]&(1<<0) != 0
	addr.Used = v[12]&(1<<1) != 0
	return nil
}

// fetchAddress loads the address row for the given encoded address.
func fetchAddress(ns *bolt.Bucket, encoded string) (*ManagedAddress, error) {
	bucket := ns.Bucket(addrBucketName)
	v := bucket.Get([]byte(encoded))
	if v == nil {
		str := fmt.Sprintf("address %s not found", encoded)
		return nil, managerError(ErrAddressNotFound, str, nil)
	}
	addr := new(ManagedAddress)
	if err := deserializeAddressRow(encoded, v, addr); err != nil {
		return nil, err
	}
	return addr, nil
}

// existsAddress returns whether the given encoded address is stored.
func existsAddress(ns *bolt.Bucket, encoded string) bool {
	return ns.Bucket(addrBucketName).Get([]byte(encoded)) != nil
}

// putAddress stores the address row and its pool index entry.
func putAddress(ns *bolt.Bucket, addr *ManagedAddress) error {
	bucket := ns.Bucket(addrBucketName)
	err := bucket.Put([]byte(addr.Address), serializeAddressRow(addr))
	if err != nil {
		str := fmt.Sprintf("failed to store address %s", addr.Address)
		return managerError(ErrDatabase, str, err)
	}

	// The pool index maps (account, index) to the encoded address so
	// cursor scans hand out addresses in import order.
	idxKey := make([]byte, 12)
	byteOrder.PutUint32(idxKey[0:4], addr.Account)
	byteOrder.PutUint64(idxKey[4:12], addr.Index)
	err = ns.Bucket(addrIdxBucketName).Put(idxKey, []byte(addr.Address))
	if err != nil {
		str := fmt.Sprintf("failed to index address %s", addr.Address)
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// forEachAccountAddress calls the given function with each address of the
// given account, in pool index order.
func forEachAccountAddress(ns *bolt.Bucket, account uint32,
	fn func(addr *ManagedAddress) error) error {

	addrBucket := ns.Bucket(addrBucketName)
	c := ns.Bucket(addrIdxBucketName).Cursor()
	prefix := uint32ToBytes(account)
	for k, v := c.Seek(prefix); k != nil && byteOrder.Uint32(k[0:4]) == account; k, v = c.Next() {
		row := addrBucket.Get(v)
		addr := new(ManagedAddress)
		err := deserializeAddressRow(string(v), row, addr)
		if err != nil {
			return err
		}
		if err := fn(addr); err != nil {
			return err
		}
	}
	return nil
}

// lastAddressIndex returns the highest pool index currently stored for the
// given account, and whether any address exists at all.
func lastAddressIndex(ns *bolt.Bucket, account uint32) (uint64, bool) {
	c := ns.Bucket(addrIdxBucketName).Cursor()
	// Seek to the first key of the next account and step back.
	var seekKey []byte
	if account == ^uint32(0) {
		k, _ := c.Last()
		if k == nil || byteOrder.Uint32(k[0:4]) != account {
			return 0, false
		}
		return byteOrder.Uint64(k[4:12]), true
	}
	seekKey = uint32ToBytes(account + 1)
	k, _ := c.Seek(seekKey)
	if k == nil {
		k, _ = c.Last()
	} else {
		k, _ = c.Prev()
	}
	if k == nil || byteOrder.Uint32(k[0:4]) != account {
		return 0, false
	}
	return byteOrder.Uint64(k[4:12]), true
}

// fetchSyncedTo loads the block the manager is synced to.
func fetchSyncedTo(ns *bolt.Bucket) (*BlockStamp, error) {
	bucket := ns.Bucket(syncBucketName)
	v := bucket.Get(syncedToName)
	if v == nil {
		str := "required synced-to block not stored in database"
		return nil, managerError(ErrDatabase, str, nil)
	}
	if len(v) != 4+chainhash.HashSize+8 {
		str := "malformed synced-to block stored in database"
		return nil, managerError(ErrDatabase, str, nil)
	}

	bs := new(BlockStamp)
	bs.Height = int32(byteOrder.Uint32(v[0:4]))
	copy(bs.Hash[:], v[4:4+chainhash.HashSize])
	bs.Timestamp = time.Unix(int64(byteOrder.Uint64(v[36:44])), 0)
	return bs, nil
}

// putSyncedTo stores the block the manager is synced to.
func putSyncedTo(ns *bolt.Bucket, bs *BlockStamp) error {
	bucket := ns.Bucket(syncBucketName)
	v := make([]byte, 4+chainhash.HashSize+8)
	byteOrder.PutUint32(v[0:4], uint32(bs.Height))
	copy(v[4:4+chainhash.HashSize], bs.Hash[:])
	byteOrder.PutUint64(v[36:44], uint64(bs.Timestamp.Unix()))
	err := bucket.Put(syncedToName, v)
	if err != nil {
		str := fmt.Sprintf("failed to store synced-to block %v",
			bs.Hash)
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// createManagerNS creates the initial namespace structure needed for all of
// the manager data.  This includes things such as all of the buckets as well
// as the version.
func createManagerNS(ns *bolt.Bucket) error {
	for _, bucketName := range [][]byte{
		mainBucketName, acctBucketName, addrBucketName,
		addrIdxBucketName, syncBucketName,
	} {
		_, err := ns.CreateBucket(bucketName)
		if err != nil {
			str := fmt.Sprintf("failed to create %s bucket",
				bucketName)
			return managerError(ErrDatabase, str, err)
		}
	}

	if err := putManagerVersion(ns, latestMgrVersion); err != nil {
		return err
	}

	createDate := uint64(time.Now().Unix())
	err := ns.Bucket(mainBucketName).Put(mgrCreateDateName,
		uint64ToBytes(createDate))
	if err != nil {
		str := "failed to store database creation time"
		return managerError(ErrDatabase, str, err)
	}
	return nil
}
