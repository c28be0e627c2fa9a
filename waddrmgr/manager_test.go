package waddrmgr

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/stakesuite/stakewallet/netparams"
)

var (
	testSeed       = []byte("0123456789abcdef0123456789abcdef")
	testPassphrase = []byte("test-passphrase")

	testNow = time.Unix(1700000000, 0)
)

var waddrmgrNamespaceKey = []byte("waddrmgr")

// testManager creates a fresh manager inside a temporary bolt database and
// returns it together with the database and the test clock driving its
// unlock deadline.
func testManager(t *testing.T) (*Manager, *bolt.DB, *clock.TestClock) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "wallet.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	err = db.Update(func(tx *bolt.Tx) error {
		ns, err := tx.CreateBucket(waddrmgrNamespaceKey)
		if err != nil {
			return err
		}
		return Create(ns, testSeed, testPassphrase,
			&netparams.SimNetParams)
	})
	require.NoError(t, err)

	clk := clock.NewTestClock(testNow)
	var mgr *Manager
	err = db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		mgr, err = Open(ns, &netparams.SimNetParams, clk)
		return err
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	return mgr, db, clk
}

func update(t *testing.T, db *bolt.DB, fn func(ns *bolt.Bucket) error) {
	t.Helper()
	err := db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(waddrmgrNamespaceKey))
	})
	require.NoError(t, err)
}

func TestManagerUnlockWrongPassphrase(t *testing.T) {
	mgr, db, _ := testManager(t)

	err := db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		unlockErr := mgr.Unlock(ns, []byte("nope"), time.Time{})
		require.True(t, IsError(unlockErr, ErrWrongPassphrase))
		return nil
	})
	require.NoError(t, err)
	require.True(t, mgr.IsLocked())
}

func TestManagerUnlockAndSeed(t *testing.T) {
	mgr, db, _ := testManager(t)
	require.True(t, mgr.IsLocked())

	err := db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		if err := mgr.Unlock(ns, testPassphrase, time.Time{}); err != nil {
			return err
		}
		seed, err := mgr.Seed(ns)
		if err != nil {
			return err
		}
		require.Equal(t, testSeed, seed)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mgr.IsLocked())

	require.NoError(t, mgr.Lock())
	require.True(t, mgr.IsLocked())

	// Locking twice reports ErrLocked.
	err = mgr.Lock()
	require.True(t, IsError(err, ErrLocked))
}

func TestManagerUnlockDeadline(t *testing.T) {
	mgr, db, clk := testManager(t)

	deadline := testNow.Add(time.Minute)
	err := db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		return mgr.Unlock(ns, testPassphrase, deadline)
	})
	require.NoError(t, err)
	require.False(t, mgr.IsLocked())

	// Just before the deadline the manager stays unlocked.
	clk.SetTime(deadline.Add(-time.Second))
	require.False(t, mgr.IsLocked())

	// Once the deadline has passed the manager observes itself locked
	// with no explicit Lock call.
	clk.SetTime(deadline.Add(time.Second))
	require.True(t, mgr.IsLocked())

	// Secrets are gone as well.
	err = db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		_, seedErr := mgr.Seed(ns)
		require.True(t, IsError(seedErr, ErrLocked))
		return nil
	})
	require.NoError(t, err)
}

func TestManagerChangePassphrase(t *testing.T) {
	mgr, db, _ := testManager(t)

	newPass := []byte("brand-new-passphrase")
	update(t, db, func(ns *bolt.Bucket) error {
		return mgr.ChangePassphrase(ns, testPassphrase, newPass)
	})
	require.True(t, mgr.IsLocked())

	err := db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		oldErr := mgr.Unlock(ns, testPassphrase, time.Time{})
		require.True(t, IsError(oldErr, ErrWrongPassphrase))
		return mgr.Unlock(ns, newPass, time.Time{})
	})
	require.NoError(t, err)
	require.False(t, mgr.IsLocked())
}

func TestNextFreeAddress(t *testing.T) {
	mgr, db, _ := testManager(t)

	update(t, db, func(ns *bolt.Bucket) error {
		for _, imp := range []struct {
			addr     string
			internal bool
		}{
			{"SextAddr1", false},
			{"SchgAddr1", true},
			{"SextAddr2", false},
		} {
			err := mgr.ImportAddress(ns, imp.addr,
				DefaultAccountNum, imp.internal)
			if err != nil {
				return err
			}
		}
		return nil
	})

	// Duplicate imports are rejected.
	err := db.Update(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		dupErr := mgr.ImportAddress(ns, "SextAddr1",
			DefaultAccountNum, false)
		require.True(t, IsError(dupErr, ErrDuplicateAddress))
		return nil
	})
	require.NoError(t, err)

	// External addresses are handed out in pool order; change addresses
	// are never handed out.
	var got []string
	for i := 0; i < 2; i++ {
		update(t, db, func(ns *bolt.Bucket) error {
			addr, err := mgr.NextFreeAddress(ns, DefaultAccountNum)
			if err != nil {
				return err
			}
			got = append(got, addr.Address)
			return nil
		})
	}
	require.Equal(t, []string{"SextAddr1", "SextAddr2"}, got)

	err = db.Update(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		_, poolErr := mgr.NextFreeAddress(ns, DefaultAccountNum)
		require.True(t, IsError(poolErr, ErrAddressPoolExhausted))
		return nil
	})
	require.NoError(t, err)

	// The handed-out addresses are marked used and keep their change
	// flag metadata.
	err = db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		addr, err := mgr.Address(ns, "SextAddr1")
		require.NoError(t, err)
		require.True(t, addr.Used)
		require.False(t, addr.Internal)

		chg, err := mgr.Address(ns, "SchgAddr1")
		require.NoError(t, err)
		require.False(t, chg.Used)
		require.True(t, chg.Internal)
		return nil
	})
	require.NoError(t, err)
}

func TestAccounts(t *testing.T) {
	mgr, db, _ := testManager(t)

	err := db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)

		first, err := mgr.FirstAccount(ns)
		require.NoError(t, err)
		require.Equal(t, uint32(DefaultAccountNum), first)

		name, err := mgr.AccountName(ns, first)
		require.NoError(t, err)
		require.Equal(t, "default", name)

		num, err := mgr.LookupAccount(ns, "default")
		require.NoError(t, err)
		require.Equal(t, first, num)

		_, err = mgr.LookupAccount(ns, "missing")
		require.True(t, IsError(err, ErrAccountNotFound))

		accounts, err := mgr.Accounts(ns)
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestSetSyncedTo(t *testing.T) {
	mgr, db, _ := testManager(t)

	bs := BlockStamp{
		Height:    1000,
		Timestamp: testNow,
	}
	bs.Hash[0] = 0xab

	update(t, db, func(ns *bolt.Bucket) error {
		return mgr.SetSyncedTo(ns, &bs)
	})
	require.Equal(t, bs, mgr.SyncedTo())

	// Reopening reads the stamp back from the database.
	err := db.View(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		reopened, err := Open(ns, &netparams.SimNetParams, nil)
		if err != nil {
			return err
		}
		defer reopened.Close()
		require.Equal(t, bs, reopened.SyncedTo())
		return nil
	})
	require.NoError(t, err)
}
