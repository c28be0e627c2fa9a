package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
	bolt "go.etcd.io/bbolt"

	"github.com/stakesuite/stakewallet/netparams"
	"github.com/stakesuite/stakewallet/waddrmgr"
	"github.com/stakesuite/stakewallet/wtxmgr"
)

const walletDbName = "wallet.db"

var (
	// ErrNoWallets describes the error condition of attempting to resolve
	// a wallet when none exists in the loader's database directory.  This
	// is a configuration error: the daemon was pointed at a directory it
	// was never asked to create a wallet in.
	ErrNoWallets = errors.New("no wallet configured")

	// ErrExists describes the error condition of attempting to create a
	// new wallet when one exists already.
	ErrExists = errors.New("wallet already exists")

	// ErrLoaded describes the error condition of attempting to load or
	// create a wallet when the loader has already done so.
	ErrLoaded = errors.New("wallet already loaded")
)

// Loader implements the creating of new and opening of existing wallets.
// It also acts as the single place the "first wallet" of a database
// directory is resolved: every caller that previously reached for an
// implicit default goes through FirstWallet, and a missing wallet surfaces
// as the ErrNoWallets configuration error there rather than deep inside a
// query.
type Loader struct {
	chainParams *netparams.Params
	dbDirPath   string
	clk         clock.Clock

	mtx    sync.Mutex
	wallet *Wallet
	db     *bolt.DB
}

// NewLoader constructs a Loader for a network directory.  A nil clock
// selects the wall clock.
func NewLoader(chainParams *netparams.Params, dbDirPath string,
	clk clock.Clock) *Loader {

	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Loader{
		chainParams: chainParams,
		dbDirPath:   dbDirPath,
		clk:         clk,
	}
}

// CreateNewWallet creates a new wallet database using the provided seed and
// private passphrase.
func (l *Loader) CreateNewWallet(seed, privPassphrase []byte) (*Wallet, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	dbPath := filepath.Join(l.dbDirPath, walletDbName)
	exists, err := fileExists(dbPath)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrExists
	}

	if err := os.MkdirAll(l.dbDirPath, 0700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		addrNs, err := tx.CreateBucket(waddrmgrNamespaceKey)
		if err != nil {
			return err
		}
		txNs, err := tx.CreateBucket(wtxmgrNamespaceKey)
		if err != nil {
			return err
		}
		err = waddrmgr.Create(addrNs, seed, privPassphrase,
			l.chainParams)
		if err != nil {
			return err
		}
		return wtxmgr.Create(txNs)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	w, err := openWallet(db, l.chainParams, l.clk)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("Created new wallet in %s", l.dbDirPath)

	l.db = db
	l.wallet = w
	return w, nil
}

// OpenExistingWallet opens the wallet from the loader's wallet database
// path.
func (l *Loader) OpenExistingWallet() (*Wallet, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.openExistingWallet()
}

func (l *Loader) openExistingWallet() (*Wallet, error) {
	if l.wallet != nil {
		return nil, ErrLoaded
	}

	dbPath := filepath.Join(l.dbDirPath, walletDbName)
	exists, err := fileExists(dbPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNoWallets
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, err
	}
	w, err := openWallet(db, l.chainParams, l.clk)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("Opened wallet in %s", l.dbDirPath)

	l.db = db
	l.wallet = w
	return w, nil
}

// FirstWallet returns the first (and only) wallet of the loader's database
// directory, opening it on first use.  ErrNoWallets is returned when the
// directory holds none.
func (l *Loader) FirstWallet() (*Wallet, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.wallet != nil {
		return l.wallet, nil
	}
	return l.openExistingWallet()
}

// LoadedWallet returns the loaded wallet, if any, and a bool for whether the
// wallet has been loaded.
func (l *Loader) LoadedWallet() (*Wallet, bool) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.wallet, l.wallet != nil
}

// WalletExists returns whether a file exists at the loader's database path.
// This may return an error for unexpected I/O failures.
func (l *Loader) WalletExists() (bool, error) {
	return fileExists(filepath.Join(l.dbDirPath, walletDbName))
}

// UnloadWallet stops the loaded wallet, if any, and closes the wallet
// database.  Returns ErrNoWallets if the loader has never loaded a wallet.
func (l *Loader) UnloadWallet() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.wallet == nil {
		return ErrNoWallets
	}
	l.wallet.Close()
	if err := l.db.Close(); err != nil {
		return err
	}
	l.wallet = nil
	l.db = nil
	return nil
}

func fileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
