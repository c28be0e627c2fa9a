package wallet

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/clock"
	bolt "go.etcd.io/bbolt"

	"github.com/stakesuite/stakewallet/netparams"
	"github.com/stakesuite/stakewallet/waddrmgr"
	"github.com/stakesuite/stakewallet/wtxmgr"
)

var (
	waddrmgrNamespaceKey = []byte("waddrmgr")
	wtxmgrNamespaceKey   = []byte("wtxmgr")
)

var (
	// ErrUnsupportedAddressType describes an error where an address
	// type was requested that the address manager does not hand out.
	// Only legacy pool addresses are supported.
	ErrUnsupportedAddressType = errors.New("address type is not supported " +
		"by the address manager")

	// ErrInsufficientFunds describes an error where there are not enough
	// mature funds in the account to cover a requested reservation.
	ErrInsufficientFunds = errors.New("insufficient funds available to " +
		"cover the request")

	// ErrDeprecatedAccounts describes an error where a balance query
	// named a specific account.  Per-account name filters are
	// deprecated; only "" and "*" are accepted.
	ErrDeprecatedAccounts = errors.New("account filters other than \"*\" " +
		"are deprecated")
)

// Wallet is a structure containing all the components for a complete wallet.
// It contains the address manager and the transaction store, both of which
// operate on namespaces of the same wallet database.
type Wallet struct {
	db *bolt.DB

	Manager *waddrmgr.Manager
	TxStore *wtxmgr.Store

	chainParams *netparams.Params
	clk         clock.Clock
}

func openWallet(db *bolt.DB, chainParams *netparams.Params,
	clk clock.Clock) (*Wallet, error) {

	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	var (
		mgr   *waddrmgr.Manager
		store *wtxmgr.Store
	)
	err := db.View(func(tx *bolt.Tx) error {
		addrNs := tx.Bucket(waddrmgrNamespaceKey)
		txNs := tx.Bucket(wtxmgrNamespaceKey)
		if addrNs == nil || txNs == nil {
			return errors.New("database is not a wallet database")
		}

		var err error
		mgr, err = waddrmgr.Open(addrNs, chainParams, clk)
		if err != nil {
			return err
		}
		store, err = wtxmgr.Open(txNs, chainParams)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Wallet{
		db:          db,
		Manager:     mgr,
		TxStore:     store,
		chainParams: chainParams,
		clk:         clk,
	}, nil
}

// Close cleanly shuts down the wallet, zeroing any cached secrets.  The
// wallet database itself is owned and closed by the loader.
func (w *Wallet) Close() {
	w.Manager.Close()
}

// ChainParams returns the network parameters the wallet was opened with.
func (w *Wallet) ChainParams() *netparams.Params {
	return w.chainParams
}

// Database returns the underlying wallet database.
func (w *Wallet) Database() *bolt.DB {
	return w.db
}

// SyncedTo returns the block stamp of the current chain tip as observed by
// the wallet.
func (w *Wallet) SyncedTo() waddrmgr.BlockStamp {
	return w.Manager.SyncedTo()
}

// DefaultAccount resolves the wallet's first account.  This is the single
// place an implicit account is chosen; every other wallet method takes the
// account explicitly.
func (w *Wallet) DefaultAccount() (uint32, error) {
	var account uint32
	err := w.db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		var err error
		account, err = w.Manager.FirstAccount(ns)
		return err
	})
	return account, err
}

// AccountName returns the name of an account.
func (w *Wallet) AccountName(account uint32) (string, error) {
	var name string
	err := w.db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		var err error
		name, err = w.Manager.AccountName(ns, account)
		return err
	})
	return name, err
}

// LookupAccount returns the account number of a named account.
func (w *Wallet) LookupAccount(name string) (uint32, error) {
	var account uint32
	err := w.db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		var err error
		account, err = w.Manager.LookupAccount(ns, name)
		return err
	})
	return account, err
}

// AddressInfo returns the managed address metadata of an encoded address
// owned by the wallet.  Addresses the wallet does not own fail with the
// manager's ErrAddressNotFound code.
func (w *Wallet) AddressInfo(encoded string) (*waddrmgr.ManagedAddress, error) {
	var addr *waddrmgr.ManagedAddress
	err := w.db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		var err error
		addr, err = w.Manager.Address(ns, encoded)
		return err
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// CalculateBalance sums the amounts of all the wallet's unspent records with
// at least minConf confirmations.  The account filter is a legacy RPC
// artifact: only "" and "*" are accepted, anything else fails with
// ErrDeprecatedAccounts.  Unmined records never count, even for minConf 0.
func (w *Wallet) CalculateBalance(accountFilter string,
	minConf int32) (btcutil.Amount, error) {

	if accountFilter != "" && accountFilter != "*" {
		return 0, ErrDeprecatedAccounts
	}
	account, err := w.DefaultAccount()
	if err != nil {
		return 0, err
	}

	syncBlock := w.Manager.SyncedTo()
	var balance btcutil.Amount
	err = w.db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(wtxmgrNamespaceKey)
		var err error
		balance, err = w.TxStore.Balance(ns, account, minConf,
			syncBlock.Height)
		return err
	})
	return balance, err
}

// AccountBalances returns the total, mature, immature and unconfirmed
// balance aggregates of the account.  Total is always the sum of mature and
// immature.
func (w *Wallet) AccountBalances(account uint32) (wtxmgr.Balances, error) {
	syncBlock := w.Manager.SyncedTo()

	var bals wtxmgr.Balances
	err := w.db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(wtxmgrNamespaceKey)
		var err error
		bals, err = w.TxStore.AccountBalances(ns, account,
			syncBlock.Height)
		return err
	})
	return bals, err
}

// ListUnspent returns the account's unspent records with confirmation counts
// within [minConf, maxConf], projected into the RPC unspent-output view.
// When addresses is non-empty only records observed at one of the named
// addresses are returned.  The address set must already be validated;
// entries are compared by their encoded form.
func (w *Wallet) ListUnspent(account uint32, minConf, maxConf int32,
	addresses map[string]struct{}) ([]*btcjson.ListUnspentResult, error) {

	syncBlock := w.Manager.SyncedTo()

	var results []*btcjson.ListUnspentResult
	err := w.db.View(func(tx *bolt.Tx) error {
		addrNs := tx.Bucket(waddrmgrNamespaceKey)
		txNs := tx.Bucket(wtxmgrNamespaceKey)

		accountName, err := w.Manager.AccountName(addrNs, account)
		if err != nil {
			return err
		}

		credits, err := w.TxStore.SpendableCredits(txNs, account,
			minConf, maxConf, syncBlock.Height)
		if err != nil {
			return err
		}

		results = make([]*btcjson.ListUnspentResult, 0, len(credits))
		for i := range credits {
			credit := &credits[i]
			if len(addresses) > 0 {
				if _, ok := addresses[credit.Address]; !ok {
					continue
				}
			}

			// The locking script is rebuilt from the address on a
			// best-effort basis.  Imported addresses the current
			// network cannot decode are listed with an empty
			// script.
			var scriptHex string
			addr, err := btcutil.DecodeAddress(credit.Address,
				w.chainParams.Params)
			if err == nil {
				script, err := txscript.PayToAddrScript(addr)
				if err == nil {
					scriptHex = hex.EncodeToString(script)
				}
			}

			results = append(results, &btcjson.ListUnspentResult{
				TxID:          credit.Hash.String(),
				Vout:          credit.Index,
				Address:       credit.Address,
				Account:       accountName,
				ScriptPubKey:  scriptHex,
				Amount:        credit.Amount.ToBTC(),
				Confirmations: int64(credit.Confirmations),
				Spendable:     true,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// NewAddress returns the next unused external address of the account.  The
// only supported address type is the legacy pool address; requesting any
// other type fails with ErrUnsupportedAddressType.
func (w *Wallet) NewAddress(account uint32, addrType string) (string, error) {
	switch addrType {
	case "", "legacy":
	default:
		return "", ErrUnsupportedAddressType
	}

	var addr *waddrmgr.ManagedAddress
	err := w.db.Update(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		var err error
		addr, err = w.Manager.NextFreeAddress(ns, account)
		return err
	})
	if err != nil {
		return "", err
	}
	log.Debugf("Handed out address %s for account %d", addr.Address,
		account)
	return addr.Address, nil
}

// Unlock unlocks the wallet's address manager with the private passphrase.
// A positive timeout schedules the unlock to expire that far in the future;
// a zero timeout keeps the wallet unlocked until an explicit Lock.
func (w *Wallet) Unlock(passphrase []byte, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = w.clk.Now().Add(timeout)
	}
	return w.db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		return w.Manager.Unlock(ns, passphrase, deadline)
	})
}

// Lock locks the wallet's address manager.
func (w *Wallet) Lock() error {
	return w.Manager.Lock()
}

// Locked returns whether the address manager is locked.
func (w *Wallet) Locked() bool {
	return w.Manager.IsLocked()
}

// ChangePrivatePassphrase re-encrypts the wallet's master key under a new
// private passphrase.  The wallet is locked afterwards.
func (w *Wallet) ChangePrivatePassphrase(old, new []byte) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		return w.Manager.ChangePassphrase(ns, old, new)
	})
}
