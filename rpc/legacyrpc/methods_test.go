package legacyrpc

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/stakesuite/stakewallet/netparams"
	"github.com/stakesuite/stakewallet/waddrmgr"
	"github.com/stakesuite/stakewallet/wallet"
)

var (
	testSeed       = []byte("0123456789abcdef0123456789abcdef")
	testPassphrase = []byte("test-passphrase")

	testNow = time.Unix(1700000000, 0)
)

func testRPCWallet(t *testing.T) *wallet.Wallet {
	t.Helper()

	clk := clock.NewTestClock(testNow)
	loader := wallet.NewLoader(&netparams.SimNetParams, t.TempDir(), clk)
	w, err := loader.CreateNewWallet(testSeed, testPassphrase)
	require.NoError(t, err)
	t.Cleanup(func() { loader.UnloadWallet() })

	err = w.Database().Update(func(tx *bolt.Tx) error {
		ns := tx.Bucket([]byte("waddrmgr"))
		bs := waddrmgr.BlockStamp{
			Height:    500,
			Timestamp: testNow,
		}
		bs.Hash[0] = 0x0a
		return w.Manager.SetSyncedTo(ns, &bs)
	})
	require.NoError(t, err)

	return w
}

func makeRequest(t *testing.T, method string,
	params ...interface{}) *btcjson.Request {

	t.Helper()
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		b, err := json.Marshal(param)
		require.NoError(t, err)
		rawParams = append(rawParams, b)
	}
	return &btcjson.Request{
		Jsonrpc: btcjson.RpcVersion1,
		Method:  method,
		Params:  rawParams,
		ID:      1,
	}
}

func callMethod(t *testing.T, w *wallet.Wallet, method string,
	params ...interface{}) (interface{}, *btcjson.RPCError) {

	t.Helper()
	return lazyApplyHandler(makeRequest(t, method, params...), w)()
}

func TestJSONError(t *testing.T) {
	require.Nil(t, jsonError(nil))

	passthrough := &btcjson.RPCError{Code: -42, Message: "as is"}
	require.Same(t, passthrough, jsonError(passthrough))

	tests := []struct {
		name string
		err  error
		code btcjson.RPCErrorCode
	}{
		{
			name: "deserialization",
			err:  DeserializationError{errors.New("bad bytes")},
			code: btcjson.ErrRPCDeserialization,
		},
		{
			name: "invalid parameter",
			err:  ErrNeedPositiveMinconf,
			code: btcjson.ErrRPCInvalidParameter,
		},
		{
			name: "parse",
			err:  ParseError{errors.New("bad json")},
			code: btcjson.ErrRPCParse.Code,
		},
		{
			name: "wrong passphrase",
			err: waddrmgr.ManagerError{
				ErrorCode:   waddrmgr.ErrWrongPassphrase,
				Description: "invalid passphrase",
			},
			code: btcjson.ErrRPCWalletPassphraseIncorrect,
		},
		{
			name: "locked",
			err: waddrmgr.ManagerError{
				ErrorCode:   waddrmgr.ErrLocked,
				Description: "manager is locked",
			},
			code: btcjson.ErrRPCWalletUnlockNeeded,
		},
		{
			name: "no wallet configured",
			err:  wallet.ErrNoWallets,
			code: btcjson.ErrRPCWallet,
		},
		{
			name: "deprecated accounts",
			err:  wallet.ErrDeprecatedAccounts,
			code: btcjson.ErrRPCWalletInvalidAccountName,
		},
		{
			name: "unsupported address type",
			err:  wallet.ErrUnsupportedAddressType,
			code: btcjson.ErrRPCInvalidParameter,
		},
		{
			name: "insufficient funds",
			err:  wallet.ErrInsufficientFunds,
			code: btcjson.ErrRPCWalletInsufficientFunds,
		},
		{
			name: "catch-all",
			err:  errors.New("anything else"),
			code: btcjson.ErrRPCWallet,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rpcErr := jsonError(test.err)
			require.NotNil(t, rpcErr)
			require.Equal(t, test.code, rpcErr.Code)
			require.Equal(t, test.err.Error(), rpcErr.Message)
		})
	}
}

func TestLazyHandlerMethodNotFound(t *testing.T) {
	w := testRPCWallet(t)

	_, rpcErr := callMethod(t, w, "bogusmethod")
	require.Same(t, btcjson.ErrRPCMethodNotFound, rpcErr)
}

func TestLazyHandlerUnloadedWallet(t *testing.T) {
	_, rpcErr := lazyApplyHandler(makeRequest(t, "getblockcount"), nil)()
	require.NotNil(t, rpcErr)
	require.Equal(t, ErrUnloadedWallet.Code, rpcErr.Code)
}

func TestUnimplementedAndUnsupported(t *testing.T) {
	w := testRPCWallet(t)

	_, rpcErr := callMethod(t, w, "getwalletinfo")
	require.Nil(t, rpcErr)

	_, rpcErr = callMethod(t, w, "backupwallet", "dest")
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCUnimplemented, rpcErr.Code)

	_, rpcErr = callMethod(t, w, "encryptwallet", "pass")
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.RPCErrorCode(-1), rpcErr.Code)
}

func TestBestBlockHandlers(t *testing.T) {
	w := testRPCWallet(t)

	result, rpcErr := callMethod(t, w, "getblockcount")
	require.Nil(t, rpcErr)
	require.Equal(t, int32(500), result)

	result, rpcErr = callMethod(t, w, "getbestblock")
	require.Nil(t, rpcErr)
	best := result.(*btcjson.GetBestBlockResult)
	require.Equal(t, int32(500), best.Height)

	result, rpcErr = callMethod(t, w, "getbestblockhash")
	require.Nil(t, rpcErr)
	require.Equal(t, best.Hash, result)
}

func TestGetBalanceHandler(t *testing.T) {
	w := testRPCWallet(t)

	result, rpcErr := callMethod(t, w, "getbalance")
	require.Nil(t, rpcErr)
	require.Equal(t, float64(0), result)

	_, rpcErr = callMethod(t, w, "getbalance", "savings")
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCWalletInvalidAccountName, rpcErr.Code)

	_, rpcErr = callMethod(t, w, "getbalance", "*", -1)
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCInvalidParameter, rpcErr.Code)
}

func TestGetTransactionHandlerErrors(t *testing.T) {
	w := testRPCWallet(t)

	_, rpcErr := callMethod(t, w, "gettransaction", "not-a-txid")
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCDeserialization, rpcErr.Code)

	// A well-formed but unrecorded transaction id is translated to the
	// no-transaction-info error at this boundary.
	unknown := "00000000000000000000000000000000" +
		"00000000000000000000000000000009"
	_, rpcErr = callMethod(t, w, "gettransaction", unknown)
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCNoTxInfo, rpcErr.Code)
}

func TestListUnspentHandlerValidation(t *testing.T) {
	w := testRPCWallet(t)

	result, rpcErr := callMethod(t, w, "listunspent")
	require.Nil(t, rpcErr)
	require.Empty(t, result)

	_, rpcErr = callMethod(t, w, "listunspent", 10, 1)
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCInvalidParameter, rpcErr.Code)

	_, rpcErr = callMethod(t, w, "listunspent", 1, 9999,
		[]string{"definitely not an address"})
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCInvalidAddressOrKey, rpcErr.Code)
}

func TestValidateAddressHandler(t *testing.T) {
	w := testRPCWallet(t)

	result, rpcErr := callMethod(t, w, "validateaddress", "garbage!!")
	require.Nil(t, rpcErr)
	vr := result.(btcjson.ValidateAddressWalletResult)
	require.False(t, vr.IsValid)
	require.False(t, vr.IsMine)
}

func TestWalletLockHandlers(t *testing.T) {
	w := testRPCWallet(t)

	result, rpcErr := callMethod(t, w, "walletislocked")
	require.Nil(t, rpcErr)
	require.Equal(t, true, result)

	_, rpcErr = callMethod(t, w, "walletpassphrase", "wrong", 0)
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCWalletPassphraseIncorrect, rpcErr.Code)

	_, rpcErr = callMethod(t, w, "walletpassphrase",
		string(testPassphrase), 0)
	require.Nil(t, rpcErr)

	result, rpcErr = callMethod(t, w, "walletislocked")
	require.Nil(t, rpcErr)
	require.Equal(t, false, result)

	_, rpcErr = callMethod(t, w, "walletpassphrase",
		string(testPassphrase), -5)
	require.NotNil(t, rpcErr)
	require.Equal(t, btcjson.ErrRPCInvalidParameter, rpcErr.Code)

	_, rpcErr = callMethod(t, w, "walletlock")
	require.Nil(t, rpcErr)
	result, rpcErr = callMethod(t, w, "walletislocked")
	require.Nil(t, rpcErr)
	require.Equal(t, true, result)

	// Locking a locked wallet stays idempotent at this surface.
	_, rpcErr = callMethod(t, w, "walletlock")
	require.Nil(t, rpcErr)
}

func TestMakeResponse(t *testing.T) {
	resp := makeResponse(float64(1), map[string]string{"k": "v"}, nil)
	require.NotNil(t, resp.ID)
	require.Nil(t, resp.Error)
	require.JSONEq(t, `{"k":"v"}`, string(resp.Result))

	resp = makeResponse(nil, nil, ErrNeedPositiveMinconf)
	require.Nil(t, resp.ID)
	require.NotNil(t, resp.Error)
	require.Equal(t, btcjson.ErrRPCInvalidParameter, resp.Error.Code)
}
