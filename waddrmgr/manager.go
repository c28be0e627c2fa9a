package waddrmgr

import (
	"crypto/rand"
	"crypto/sha512"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	bolt "go.etcd.io/bbolt"

	"github.com/stakesuite/stakewallet/internal/zero"
	"github.com/stakesuite/stakewallet/netparams"
	"github.com/stakesuite/stakewallet/snacl"
)

var (
	// errLocked is the common error description used for operations that
	// require an unlocked manager while it is locked.
	errLocked = "address manager is locked"

	// errAlreadyLocked describes an attempt to lock a locked manager.
	errAlreadyLocked = "address manager is already locked"
)

// Manager represents an account-scoped address manager.  It tracks the
// addresses belonging to each account together with their change/used flags,
// the block the wallet is synced to, and the encrypted wallet seed.
//
// Locking and unlocking mutate only in-memory secret state.  The unlock
// deadline is evaluated lazily against the manager's clock: there is no
// background timer, a manager whose deadline has passed simply observes
// itself locked on the next secret-requiring operation.
type Manager struct {
	mtx sync.Mutex

	chainParams *netparams.Params
	clk         clock.Clock
	closed      bool

	// syncedTo is cached here so queries for the chain tip do not need a
	// database transaction.  It is loaded on open and kept in sync by
	// SetSyncedTo.
	syncedTo BlockStamp

	locked         bool
	unlockDeadline time.Time

	masterKeyPriv          *snacl.SecretKey
	cryptoKeyPrivEncrypted []byte
	cryptoKeyPriv          *snacl.CryptoKey

	// hashedPrivPassphrase is the salted hash of the passphrase used to
	// avoid the cost of re-deriving the master key when unlocking an
	// already unlocked manager.
	privPassphraseSalt   [16]byte
	hashedPrivPassphrase [sha512.Size]byte
}

// lock performs a best try effort to remove and zero all secret keys
// associated with the address manager.
//
// This function MUST be called with the manager lock held for writes.
func (m *Manager) lock() {
	if m.cryptoKeyPriv != nil {
		m.cryptoKeyPriv.Zero()
		m.cryptoKeyPriv = nil
	}
	m.masterKeyPriv.Zero()

	zero.Bytea64(&m.hashedPrivPassphrase)

	m.locked = true
	m.unlockDeadline = time.Time{}
}

// maybeExpireUnlock relocks the manager when the unlock deadline has passed.
// Expiry is a pure function of the current time versus the stored deadline.
//
// This function MUST be called with the manager lock held for writes.
func (m *Manager) maybeExpireUnlock() {
	if m.locked || m.unlockDeadline.IsZero() {
		return
	}
	if m.clk.Now().After(m.unlockDeadline) {
		m.lock()
	}
}

// isLocked is an internal method returning whether or not the address manager
// is locked via an unprotected read.
//
// NOTE: The caller *MUST* acquire the Manager's mutex before invocation to
// avoid data races.
func (m *Manager) isLocked() bool {
	m.maybeExpireUnlock()
	return m.locked
}

// IsLocked returns whether or not the address manager is locked.  When it is
// unlocked, the decryption key needed to decrypt the wallet seed is in
// memory.
func (m *Manager) IsLocked() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.isLocked()
}

// Lock performs a best try effort to remove and zero all secret keys
// associated with the address manager.
func (m *Manager) Lock() error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	// Error on attempt to lock an already locked manager.
	if m.isLocked() {
		return managerError(ErrLocked, errAlreadyLocked, nil)
	}

	m.lock()
	return nil
}

// Unlock derives the master private key from the specified passphrase.  An
// invalid passphrase will return an error.  Otherwise, the derived secret key
// is stored in memory until the manager is locked again or the deadline
// passes.  A zero deadline keeps the manager unlocked until an explicit
// Lock.  Any failures that occur during this function will result in the
// address manager being locked, even if it was already unlocked prior to
// calling this function.
func (m *Manager) Unlock(ns *bolt.Bucket, passphrase []byte, deadline time.Time) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	// Avoid actually unlocking if the manager is already unlocked and the
	// passphrases match.
	if !m.isLocked() {
		saltedPassphrase := append(m.privPassphraseSalt[:],
			passphrase...)
		hashedPassphrase := sha512.Sum512(saltedPassphrase)
		zero.Bytes(saltedPassphrase)
		if hashedPassphrase != m.hashedPrivPassphrase {
			m.lock()
			str := "invalid passphrase for master private key"
			return managerError(ErrWrongPassphrase, str, nil)
		}
		m.unlockDeadline = deadline
		return nil
	}

	// Derive the master private key using the provided passphrase.
	if err := m.masterKeyPriv.DeriveKey(&passphrase); err != nil {
		m.lock()
		if err == snacl.ErrInvalidPassword {
			str := "invalid passphrase for master private key"
			return managerError(ErrWrongPassphrase, str, nil)
		}

		str := "failed to derive master private key"
		return managerError(ErrCrypto, str, err)
	}

	// Use the master private key to decrypt the crypto private key.
	decryptedKey, err := m.masterKeyPriv.Decrypt(m.cryptoKeyPrivEncrypted)
	if err != nil {
		m.lock()
		str := "failed to decrypt crypto private key"
		return managerError(ErrCrypto, str, err)
	}
	m.cryptoKeyPriv = new(snacl.CryptoKey)
	copy(m.cryptoKeyPriv[:], decryptedKey)
	zero.Bytes(decryptedKey)

	m.locked = false
	m.unlockDeadline = deadline
	saltedPassphrase := append(m.privPassphraseSalt[:], passphrase...)
	m.hashedPrivPassphrase = sha512.Sum512(saltedPassphrase)
	zero.Bytes(saltedPassphrase)
	return nil
}

// Seed decrypts and returns the wallet generation seed.  The manager must be
// unlocked.  The caller is responsible for zeroing the returned seed.
func (m *Manager) Seed(ns *bolt.Bucket) ([]byte, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.isLocked() {
		return nil, managerError(ErrLocked, errLocked, nil)
	}

	seedEnc, err := fetchSeedEnc(ns)
	if err != nil {
		return nil, err
	}
	seed, err := m.cryptoKeyPriv.Decrypt(seedEnc)
	if err != nil {
		str := "failed to decrypt seed"
		return nil, managerError(ErrCrypto, str, err)
	}
	return seed, nil
}

// ChangePassphrase changes the passphrase protecting the crypto private key.
// The supplied old passphrase must be correct.
func (m *Manager) ChangePassphrase(ns *bolt.Bucket, oldPassphrase, newPassphrase []byte) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	// Derive a copy of the master key using the old passphrase to verify
	// it without disturbing the in-memory unlock state.
	verifyKey := &snacl.SecretKey{
		Key:        new(snacl.CryptoKey),
		Parameters: m.masterKeyPriv.Parameters,
	}
	if err := verifyKey.DeriveKey(&oldPassphrase); err != nil {
		if err == snacl.ErrInvalidPassword {
			str := "invalid passphrase for master private key"
			return managerError(ErrWrongPassphrase, str, nil)
		}
		str := "failed to derive master private key"
		return managerError(ErrCrypto, str, err)
	}

	cryptoKey, err := verifyKey.Decrypt(m.cryptoKeyPrivEncrypted)
	if err != nil {
		verifyKey.Zero()
		str := "failed to decrypt crypto private key"
		return managerError(ErrCrypto, str, err)
	}
	verifyKey.Zero()

	newMasterKey, err := snacl.NewSecretKey(&newPassphrase,
		snacl.DefaultN, snacl.DefaultR, snacl.DefaultP)
	if err != nil {
		zero.Bytes(cryptoKey)
		str := "failed to derive new master private key"
		return managerError(ErrCrypto, str, err)
	}

	cryptoKeyEnc, err := newMasterKey.Encrypt(cryptoKey)
	zero.Bytes(cryptoKey)
	if err != nil {
		str := "failed to encrypt crypto private key"
		return managerError(ErrCrypto, str, err)
	}

	err = putMasterKeyParams(ns, newMasterKey.Marshal())
	if err != nil {
		return err
	}
	if err := putCryptoPrivKey(ns, cryptoKeyEnc); err != nil {
		return err
	}

	// Swap the in-memory state only once the database has both halves.
	m.masterKeyPriv.Zero()
	m.masterKeyPriv = newMasterKey
	m.cryptoKeyPrivEncrypted = cryptoKeyEnc
	m.lock()
	return nil
}

// Close cleanly shuts down the manager.  It makes a best try effort to remove
// and zero all private key material associated with the address manager from
// memory.
func (m *Manager) Close() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.closed {
		return
	}

	if !m.locked {
		m.lock()
	}
	m.closed = true
}

// ChainParams returns the chain parameters for this address manager.
func (m *Manager) ChainParams() *netparams.Params {
	// NOTE: No need for mutex here since the net field does not change
	// after the manager instance is created.

	return m.chainParams
}

// SyncedTo returns details about the block height and hash that the address
// manager is synced through at the very least.
func (m *Manager) SyncedTo() BlockStamp {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.syncedTo
}

// SetSyncedTo marks the address manager to be in sync with the recently-seen
// block described by the blockstamp.
func (m *Manager) SetSyncedTo(ns *bolt.Bucket, bs *BlockStamp) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if err := putSyncedTo(ns, bs); err != nil {
		return err
	}
	m.syncedTo = *bs
	return nil
}

// Address returns the managed address for the given encoded address along
// with its account and change metadata.
func (m *Manager) Address(ns *bolt.Bucket, encoded string) (*ManagedAddress, error) {
	return fetchAddress(ns, encoded)
}

// AccountName returns the account name for the given account number.
func (m *Manager) AccountName(ns *bolt.Bucket, account uint32) (string, error) {
	return fetchAccountName(ns, account)
}

// LookupAccount returns the account number for the account with the given
// name.
func (m *Manager) LookupAccount(ns *bolt.Bucket, name string) (uint32, error) {
	var result uint32
	found := false
	err := forEachAccount(ns, func(account uint32, acctName string) error {
		if acctName == name {
			result = account
			found = true
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		str := "account name " + name + " not found"
		return 0, managerError(ErrAccountNotFound, str, nil)
	}
	return result, nil
}

// FirstAccount returns the lowest-numbered account known to the manager.
// This backs the wallet's single pick-first account policy; every other
// manager operation takes an explicit account number.
func (m *Manager) FirstAccount(ns *bolt.Bucket) (uint32, error) {
	return fetchFirstAccount(ns)
}

// Accounts returns all accounts known to the manager in account number
// order.
func (m *Manager) Accounts(ns *bolt.Bucket) ([]AccountInfo, error) {
	var accounts []AccountInfo
	err := forEachAccount(ns, func(account uint32, name string) error {
		accounts = append(accounts, AccountInfo{
			AccountNumber: account,
			AccountName:   name,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// ImportAddress adds an externally generated address to the given account's
// pool.  The address is appended at the end of the pool and starts out
// unused.
func (m *Manager) ImportAddress(ns *bolt.Bucket, encoded string, account uint32, internal bool) error {
	if existsAddress(ns, encoded) {
		str := "address " + encoded + " already exists"
		return managerError(ErrDuplicateAddress, str, nil)
	}
	if _, err := fetchAccountName(ns, account); err != nil {
		return err
	}

	var index uint64
	if last, ok := lastAddressIndex(ns, account); ok {
		index = last + 1
	}
	return putAddress(ns, &ManagedAddress{
		Address:  encoded,
		Account:  account,
		Internal: internal,
		Index:    index,
	})
}

// MarkAddrUsed marks the given address as used.
func (m *Manager) MarkAddrUsed(ns *bolt.Bucket, encoded string) error {
	addr, err := fetchAddress(ns, encoded)
	if err != nil {
		return err
	}
	if addr.Used {
		return nil
	}
	addr.Used = true
	return putAddress(ns, addr)
}

// NextFreeAddress returns the lowest-index unused external address of the
// given account and marks it used.  It fails with ErrAddressPoolExhausted
// when the pool holds no further unused external addresses.
func (m *Manager) NextFreeAddress(ns *bolt.Bucket, account uint32) (*ManagedAddress, error) {
	var result *ManagedAddress
	err := forEachAccountAddress(ns, account, func(addr *ManagedAddress) error {
		if result != nil || addr.Internal || addr.Used {
			return nil
		}
		result = addr
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		str := "no unused addresses remain in the address pool"
		return nil, managerError(ErrAddressPoolExhausted, str, nil)
	}

	result.Used = true
	if err := putAddress(ns, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Create creates a new address manager in the given namespace.  The seed is
// encrypted with a crypto key which is in turn protected by a master key
// derived from the private passphrase.  A default account is created.
//
// A ManagerError with an error code of ErrAlreadyExists will be returned the
// address manager already exists in the specified namespace.
func Create(ns *bolt.Bucket, seed, privPassphrase []byte, chainParams *netparams.Params) error {
	if ns.Bucket(mainBucketName) != nil {
		return managerError(ErrAlreadyExists,
			"address manager already exists", nil)
	}

	if err := createManagerNS(ns); err != nil {
		return err
	}

	masterKeyPriv, err := snacl.NewSecretKey(&privPassphrase,
		snacl.DefaultN, snacl.DefaultR, snacl.DefaultP)
	if err != nil {
		str := "failed to derive master private key"
		return managerError(ErrCrypto, str, err)
	}
	defer masterKeyPriv.Zero()

	cryptoKeyPriv, err := snacl.GenerateCryptoKey()
	if err != nil {
		str := "failed to generate crypto private key"
		return managerError(ErrCrypto, str, err)
	}
	defer cryptoKeyPriv.Zero()

	cryptoKeyPrivEnc, err := masterKeyPriv.Encrypt(cryptoKeyPriv[:])
	if err != nil {
		str := "failed to encrypt crypto private key"
		return managerError(ErrCrypto, str, err)
	}
	seedEnc, err := cryptoKeyPriv.Encrypt(seed)
	if err != nil {
		str := "failed to encrypt seed"
		return managerError(ErrCrypto, str, err)
	}

	if err := putMasterKeyParams(ns, masterKeyPriv.Marshal()); err != nil {
		return err
	}
	if err := putCryptoPrivKey(ns, cryptoKeyPrivEnc); err != nil {
		return err
	}
	if err := putSeedEnc(ns, seedEnc); err != nil {
		return err
	}
	if err := putAccountName(ns, DefaultAccountNum, defaultAccountName); err != nil {
		return err
	}
	return putSyncedTo(ns, &BlockStamp{
		Height:    0,
		Hash:      *chainParams.GenesisHash,
		Timestamp: chainParams.GenesisBlock.Header.Timestamp,
	})
}

// Open loads an existing address manager from the given namespace.  The
// manager starts locked.
func Open(ns *bolt.Bucket, chainParams *netparams.Params, clk clock.Clock) (*Manager, error) {
	if ns.Bucket(mainBucketName) == nil {
		str := "the specified address manager does not exist"
		return nil, managerError(ErrNoExist, str, nil)
	}

	version, err := fetchManagerVersion(ns)
	if err != nil {
		return nil, err
	}
	if version > latestMgrVersion {
		str := "database upgrade required"
		return nil, managerError(ErrDatabase, str, nil)
	}

	masterKeyParams, err := fetchMasterKeyParams(ns)
	if err != nil {
		return nil, err
	}
	masterKeyPriv := &snacl.SecretKey{Key: new(snacl.CryptoKey)}
	if err := masterKeyPriv.Unmarshal(masterKeyParams); err != nil {
		str := "failed to unmarshal master private key parameters"
		return nil, managerError(ErrCrypto, str, err)
	}

	cryptoKeyPrivEnc, err := fetchCryptoPrivKey(ns)
	if err != nil {
		return nil, err
	}

	syncedTo, err := fetchSyncedTo(ns)
	if err != nil {
		return nil, err
	}

	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	m := &Manager{
		chainParams:            chainParams,
		clk:                    clk,
		syncedTo:               *syncedTo,
		locked:                 true,
		masterKeyPriv:          masterKeyPriv,
		cryptoKeyPrivEncrypted: cryptoKeyPrivEnc,
	}
	if _, err := rand.Read(m.privPassphraseSalt[:]); err != nil {
		str := "failed to generate passphrase salt"
		return nil, managerError(ErrCrypto, str, err)
	}
	return m, nil
}
