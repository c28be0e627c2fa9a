package wallet

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/stakesuite/stakewallet/netparams"
	"github.com/stakesuite/stakewallet/waddrmgr"
	"github.com/stakesuite/stakewallet/wtxmgr"
)

var (
	testSeed       = []byte("0123456789abcdef0123456789abcdef")
	testPassphrase = []byte("test-passphrase")

	testNow = time.Unix(1700000000, 0)
)

const testTipHeight = 1000

// testChainParams is the simnet with a stake reward distinct from any stored
// record amount, so reward substitution is observable.
var testChainParams = netparams.Params{
	Params:      &chaincfg.SimNetParams,
	StakeReward: 4 * btcutil.SatoshiPerBitcoin,
}

func testWallet(t *testing.T) (*Wallet, *clock.TestClock) {
	t.Helper()

	clk := clock.NewTestClock(testNow)
	loader := NewLoader(&testChainParams, t.TempDir(), clk)

	w, err := loader.CreateNewWallet(testSeed, testPassphrase)
	require.NoError(t, err)
	t.Cleanup(func() { loader.UnloadWallet() })

	err = w.db.Update(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		bs := waddrmgr.BlockStamp{
			Height:    testTipHeight,
			Timestamp: testNow,
		}
		bs.Hash[0] = 0x01
		return w.Manager.SetSyncedTo(ns, &bs)
	})
	require.NoError(t, err)

	return w, clk
}

func testHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func putRecord(t *testing.T, w *Wallet, rec *wtxmgr.TxRecord) {
	t.Helper()
	err := w.db.Update(func(tx *bolt.Tx) error {
		ns := tx.Bucket(wtxmgrNamespaceKey)
		return w.TxStore.PutTxRecord(ns, rec)
	})
	require.NoError(t, err)
}

func importAddr(t *testing.T, w *Wallet, addr string, internal bool) {
	t.Helper()
	err := w.db.Update(func(tx *bolt.Tx) error {
		ns := tx.Bucket(waddrmgrNamespaceKey)
		return w.Manager.ImportAddress(ns, addr,
			waddrmgr.DefaultAccountNum, internal)
	})
	require.NoError(t, err)
}

func minedRecord(txByte byte, addr string, amount btcutil.Amount,
	height int32) *wtxmgr.TxRecord {

	rec := &wtxmgr.TxRecord{
		Hash:     testHash(txByte),
		Address:  addr,
		Amount:   amount,
		Height:   height,
		Received: testNow,
	}
	rec.BlockHash = testHash(0xf0 + txByte)
	return rec
}

func TestGetTransactionNotRelevant(t *testing.T) {
	w, _ := testWallet(t)

	missing := testHash(9)
	effect, err := w.GetTransaction(waddrmgr.DefaultAccountNum, &missing)
	require.NoError(t, err)
	require.Nil(t, effect)
}

func TestGetTransactionReceive(t *testing.T) {
	w, _ := testWallet(t)

	importAddr(t, w, "SsExt1", false)
	rec := minedRecord(1, "SsExt1", 150000, testTipHeight-10)
	rec.SerializedTx = []byte{0x01, 0x00, 0x00, 0x00}
	putRecord(t, w, rec)

	effect, err := w.GetTransaction(waddrmgr.DefaultAccountNum, &rec.Hash)
	require.NoError(t, err)
	require.NotNil(t, effect)

	require.Equal(t, rec.Hash.String(), effect.TxID)
	require.Equal(t, btcutil.Amount(150000), effect.Amount)
	require.Equal(t, int32(10), effect.Confirmations)
	require.Equal(t, testNow.Unix(), effect.Time)
	require.NotNil(t, effect.BlockHash)
	require.Equal(t, rec.BlockHash, *effect.BlockHash)
	require.Equal(t, "01000000", effect.Hex)
	require.Equal(t, []TransactionDetail{{
		Address:  "SsExt1",
		Category: CategoryReceive,
		Amount:   150000,
	}}, effect.Details)
}

func TestGetTransactionStakeReward(t *testing.T) {
	w, _ := testWallet(t)

	importAddr(t, w, "SsStake1", false)

	// The stored amount includes the returned stake deposit; the effect
	// must carry the configured reward instead.
	rec := minedRecord(2, "SsStake1", 5*btcutil.SatoshiPerBitcoin,
		testTipHeight-50)
	rec.CoinStake = true
	putRecord(t, w, rec)

	effect, err := w.GetTransaction(waddrmgr.DefaultAccountNum, &rec.Hash)
	require.NoError(t, err)
	require.NotNil(t, effect)

	require.Equal(t, testChainParams.StakeReward, effect.Amount)
	require.Equal(t, []TransactionDetail{{
		Address:  "SsStake1",
		Category: CategoryStake,
		Amount:   testChainParams.StakeReward,
	}}, effect.Details)
}

func TestGetTransactionChangeSpend(t *testing.T) {
	w, _ := testWallet(t)

	importAddr(t, w, "SsExt1", false)
	importAddr(t, w, "SsChange1", true)

	spender := testHash(7)

	// A funded external record, later consumed by the spender with two
	// payments.
	funding := minedRecord(1, "SsExt1", 4*btcutil.SatoshiPerBitcoin,
		testTipHeight-100)
	funding.SpentBy = &wtxmgr.SpendingDetail{
		SpentBy: spender,
		Payments: []wtxmgr.Payment{
			{Address: "destA", Amount: 1 * btcutil.SatoshiPerBitcoin},
			{Address: "destB", Amount: 25 * btcutil.SatoshiPerBitcoin / 10},
		},
	}
	putRecord(t, w, funding)

	// The change credit created by the spending transaction.  Its own
	// amount never shows up in the interpretation.
	change := minedRecord(0, "SsChange1", btcutil.SatoshiPerBitcoin/2,
		testTipHeight-10)
	change.Hash = spender
	putRecord(t, w, change)

	effect, err := w.GetTransaction(waddrmgr.DefaultAccountNum, &spender)
	require.NoError(t, err)
	require.NotNil(t, effect)

	require.Equal(t, btcutil.Amount(-35*btcutil.SatoshiPerBitcoin/10),
		effect.Amount)
	require.Equal(t, []TransactionDetail{
		{
			Address:  "destA",
			Category: CategorySend,
			Amount:   -1 * btcutil.SatoshiPerBitcoin,
		},
		{
			Address:  "destB",
			Category: CategorySend,
			Amount:   -25 * btcutil.SatoshiPerBitcoin / 10,
		},
	}, effect.Details)
}

func TestGetTransactionChangeSpendOnce(t *testing.T) {
	w, _ := testWallet(t)

	importAddr(t, w, "SsExt1", false)
	importAddr(t, w, "SsChange1", true)
	importAddr(t, w, "SsChange2", true)

	spender := testHash(7)

	funding := minedRecord(1, "SsExt1", 2*btcutil.SatoshiPerBitcoin,
		testTipHeight-100)
	funding.SpentBy = &wtxmgr.SpendingDetail{
		SpentBy: spender,
		Payments: []wtxmgr.Payment{
			{Address: "destA", Amount: btcutil.SatoshiPerBitcoin},
		},
	}
	putRecord(t, w, funding)

	// Two change credits from the same spending transaction: the payment
	// reconstruction must still run only once.
	for i, addr := range []string{"SsChange1", "SsChange2"} {
		change := minedRecord(0, addr, 10000*btcutil.Amount(i+1),
			testTipHeight-10)
		change.Hash = spender
		putRecord(t, w, change)
	}

	effect, err := w.GetTransaction(waddrmgr.DefaultAccountNum, &spender)
	require.NoError(t, err)
	require.NotNil(t, effect)

	require.Equal(t, btcutil.Amount(-btcutil.SatoshiPerBitcoin), effect.Amount)
	require.Len(t, effect.Details, 1)
}

func TestCalculateBalance(t *testing.T) {
	w, _ := testWallet(t)

	putRecord(t, w, minedRecord(1, "SsExt1", 100000, testTipHeight-10))
	putRecord(t, w, minedRecord(2, "SsExt2", 200000, testTipHeight-5))

	unmined := &wtxmgr.TxRecord{
		Hash:     testHash(3),
		Address:  "SsExt3",
		Amount:   50000,
		Height:   wtxmgr.UnminedHeight,
		Received: testNow,
	}
	putRecord(t, w, unmined)

	// Unmined records never count, even with no confirmation floor.
	balance, err := w.CalculateBalance("*", 0)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(300000), balance)

	// Raising the requirement can only shrink the result.
	restricted, err := w.CalculateBalance("", 8)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100000), restricted)
	require.LessOrEqual(t, restricted, balance)

	_, err = w.CalculateBalance("savings", 0)
	require.ErrorIs(t, err, ErrDeprecatedAccounts)
}

func TestAccountBalancesIdentity(t *testing.T) {
	w, _ := testWallet(t)
	maturity := int32(testChainParams.CoinbaseMaturity)

	putRecord(t, w, minedRecord(1, "SsExt1", 500000,
		testTipHeight-maturity-1))
	putRecord(t, w, minedRecord(2, "SsExt2", 300000, testTipHeight-1))

	bals, err := w.AccountBalances(waddrmgr.DefaultAccountNum)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(800000), bals.Total)
	require.Equal(t, bals.Total, bals.Mature+bals.Immature)
	require.Equal(t, btcutil.Amount(300000), bals.Immature)
}

func TestListUnspent(t *testing.T) {
	w, _ := testWallet(t)

	putRecord(t, w, minedRecord(1, "SsExt1", 100000, testTipHeight-10))
	putRecord(t, w, minedRecord(2, "SsExt2", 200000, testTipHeight-100))

	accountName, err := w.AccountName(waddrmgr.DefaultAccountNum)
	require.NoError(t, err)

	results, err := w.ListUnspent(waddrmgr.DefaultAccountNum, 0, 9999, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		require.Equal(t, accountName, result.Account)
		require.True(t, result.Spendable)
	}

	// Confirmation range excludes the deeply buried record.
	results, err = w.ListUnspent(waddrmgr.DefaultAccountNum, 0, 50, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "SsExt1", results[0].Address)
	require.Equal(t, int64(10), results[0].Confirmations)

	// The address allow-list narrows the result further.
	filter := map[string]struct{}{"SsExt2": {}}
	results, err = w.ListUnspent(waddrmgr.DefaultAccountNum, 0, 9999, filter)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "SsExt2", results[0].Address)
	require.Equal(t, btcutil.Amount(200000).ToBTC(), results[0].Amount)
}

func TestNewAddress(t *testing.T) {
	w, _ := testWallet(t)

	importAddr(t, w, "SsExt1", false)

	_, err := w.NewAddress(waddrmgr.DefaultAccountNum, "bech32")
	require.ErrorIs(t, err, ErrUnsupportedAddressType)

	addr, err := w.NewAddress(waddrmgr.DefaultAccountNum, "legacy")
	require.NoError(t, err)
	require.Equal(t, "SsExt1", addr)

	// The pool held a single address.
	_, err = w.NewAddress(waddrmgr.DefaultAccountNum, "")
	require.True(t, waddrmgr.IsError(err,
		waddrmgr.ErrAddressPoolExhausted))
}

func TestUnlockTimeout(t *testing.T) {
	w, clk := testWallet(t)
	require.True(t, w.Locked())

	require.NoError(t, w.Unlock(testPassphrase, time.Minute))
	require.False(t, w.Locked())

	clk.SetTime(testNow.Add(2 * time.Minute))
	require.True(t, w.Locked())

	// Without a timeout the unlock holds until an explicit lock.
	require.NoError(t, w.Unlock(testPassphrase, 0))
	clk.SetTime(testNow.Add(24 * time.Hour))
	require.False(t, w.Locked())
	require.NoError(t, w.Lock())
	require.True(t, w.Locked())
}

func TestLoaderFirstWallet(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewTestClock(testNow)

	loader := NewLoader(&testChainParams, dir, clk)
	_, err := loader.FirstWallet()
	require.ErrorIs(t, err, ErrNoWallets)

	w, err := loader.CreateNewWallet(testSeed, testPassphrase)
	require.NoError(t, err)

	got, err := loader.FirstWallet()
	require.NoError(t, err)
	require.Same(t, w, got)

	_, err = loader.CreateNewWallet(testSeed, testPassphrase)
	require.ErrorIs(t, err, ErrLoaded)
	require.NoError(t, loader.UnloadWallet())

	// A fresh loader over the same directory reopens rather than creates.
	reloader := NewLoader(&testChainParams, dir, clk)
	_, err = reloader.CreateNewWallet(testSeed, testPassphrase)
	require.ErrorIs(t, err, ErrExists)

	reopened, err := reloader.FirstWallet()
	require.NoError(t, err)
	account, err := reopened.DefaultAccount()
	require.NoError(t, err)
	require.Equal(t, uint32(waddrmgr.DefaultAccountNum), account)
	require.NoError(t, reloader.UnloadWallet())
}
