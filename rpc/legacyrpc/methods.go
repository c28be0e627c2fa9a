package legacyrpc

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/stakesuite/stakewallet/waddrmgr"
	"github.com/stakesuite/stakewallet/wallet"
)

// requestHandler is a handler function to handle an unmarshaled and parsed
// request into a marshalable response.  If the error is a *btcjson.RPCError
// or any of the above special error classes, the server will respond with
// the JSON-RPC appropiate error code.  All other errors use the wallet
// catch-all error code, btcjson.ErrRPCWallet.
type requestHandler func(interface{}, *wallet.Wallet) (interface{}, error)

var rpcHandlers = map[string]struct {
	handler requestHandler

	// Function variables cannot be compared against anything but nil, so
	// use a boolean to record whether help generation is necessary.  This
	// is used by the tests to ensure that help can be generated for every
	// implemented method.
	//
	// A single map and this bool is here is used rather than several maps
	// for the unimplemented handlers so every method has exactly one
	// handler function.
	noHelp bool
}{
	// Reference implementation wallet methods (implemented)
	"getbalance":       {handler: getBalance},
	"getbestblock":     {handler: getBestBlock},
	"getbestblockhash": {handler: getBestBlockHash},
	"getblockcount":    {handler: getBlockCount},
	"getnewaddress":    {handler: getNewAddress},
	"gettransaction":   {handler: getTransaction},
	"getwalletinfo":    {handler: getWalletInfo},
	"listunspent":      {handler: listUnspent},
	"validateaddress":  {handler: validateAddress},
	"walletislocked":   {handler: walletIsLocked},
	"walletlock":       {handler: walletLock},
	"walletpassphrase": {handler: walletPassphrase},

	"walletpassphrasechange": {handler: walletPassphraseChange},

	// Reference implementation methods (still unimplemented)
	"backupwallet":         {handler: unimplemented, noHelp: true},
	"dumpwallet":           {handler: unimplemented, noHelp: true},
	"importwallet":         {handler: unimplemented, noHelp: true},
	"listaddressgroupings": {handler: unimplemented, noHelp: true},

	// Reference methods which can't be implemented here due to design
	// decision differences: transaction construction, signing and
	// broadcast live in the external builder, and the historical
	// account-moving methods have no equivalent.
	"encryptwallet":      {handler: unsupported, noHelp: true},
	"move":               {handler: unsupported, noHelp: true},
	"sendfrom":           {handler: unsupported, noHelp: true},
	"sendmany":           {handler: unsupported, noHelp: true},
	"sendtoaddress":      {handler: unsupported, noHelp: true},
	"setaccount":         {handler: unsupported, noHelp: true},
	"signmessage":        {handler: unsupported, noHelp: true},
	"signrawtransaction": {handler: unsupported, noHelp: true},
}

// unimplemented handles an unimplemented RPC request with the
// appropiate error.
func unimplemented(interface{}, *wallet.Wallet) (interface{}, error) {
	return nil, &btcjson.RPCError{
		Code:    btcjson.ErrRPCUnimplemented,
		Message: "Method unimplemented",
	}
}

// unsupported handles a standard bitcoind RPC request which is
// unsupported due to design differences.
func unsupported(interface{}, *wallet.Wallet) (interface{}, error) {
	return nil, &btcjson.RPCError{
		Code:    -1,
		Message: "Request unsupported by stakewallet",
	}
}

// GetWalletInfoCmd defines the getwalletinfo JSON-RPC command.  The upstream
// command set does not carry it, so it is registered here.  The command has
// no parameters and its handler never inspects the unmarshaled value.
type GetWalletInfoCmd struct{}

func init() {
	// Re-registration only fails when another package beat us to the
	// method, in which case the existing registration serves.
	_ = btcjson.RegisterCmd("getwalletinfo", (*GetWalletInfoCmd)(nil),
		btcjson.UFWalletOnly)
}

// lazyHandler is a closure over a requestHandler or passthrough request with
// the RPC server's wallet variable as part of the closure context.
type lazyHandler func() (interface{}, *btcjson.RPCError)

// lazyApplyHandler looks up the best request handler func for the method,
// returning a closure that will execute it with the (required) wallet.
// Methods without a handler fail as not found; there is no chain passthrough
// here, the consensus node is queried by its own clients.
func lazyApplyHandler(request *btcjson.Request, w *wallet.Wallet) lazyHandler {
	handlerData, ok := rpcHandlers[request.Method]
	if !ok || handlerData.handler == nil {
		return func() (interface{}, *btcjson.RPCError) {
			return nil, btcjson.ErrRPCMethodNotFound
		}
	}

	return func() (interface{}, *btcjson.RPCError) {
		if w == nil {
			return nil, jsonError(&ErrUnloadedWallet)
		}
		cmd, err := btcjson.UnmarshalCmd(request)
		if err != nil {
			return nil, btcjson.ErrRPCInvalidRequest
		}
		resp, err := handlerData.handler(cmd, w)
		if err != nil {
			return nil, jsonError(err)
		}
		return resp, nil
	}
}

// makeResponse makes the JSON-RPC response struct for the result and error
// returned by a requestHandler.  The returned response is not ready for
// marshaling and sending off to a client, but must be
func makeResponse(id, result interface{}, err error) btcjson.Response {
	idPtr := idPointer(id)
	if err != nil {
		return btcjson.Response{
			ID:    idPtr,
			Error: jsonError(err),
		}
	}
	resultBytes, err := json.Marshal(result)
	if err != nil {
		log.Errorf("Cannot marshal result: %v", err)
		return btcjson.Response{
			ID: idPtr,
			Error: &btcjson.RPCError{
				Code:    btcjson.ErrRPCInternal.Code,
				Message: "Unexpected error marshalling result",
			},
		}
	}
	return btcjson.Response{
		ID:     idPtr,
		Result: json.RawMessage(resultBytes),
	}
}

// idPointer returns a pointer to the passed ID, or nil if the interface is
// nil.  Used for responses so the ID can be omitted for notifications.
func idPointer(id interface{}) (p *interface{}) {
	if id != nil {
		p = &id
	}
	return
}

// jsonError creates a JSON-RPC error from the Go error.
func jsonError(err error) *btcjson.RPCError {
	if err == nil {
		return nil
	}

	code := btcjson.ErrRPCWallet
	switch e := err.(type) {
	case btcjson.RPCError:
		return &e
	case *btcjson.RPCError:
		return e
	case DeserializationError:
		code = btcjson.ErrRPCDeserialization
	case InvalidParameterError:
		code = btcjson.ErrRPCInvalidParameter
	case ParseError:
		code = btcjson.ErrRPCParse.Code
	case waddrmgr.ManagerError:
		switch e.ErrorCode {
		case waddrmgr.ErrWrongPassphrase:
			code = btcjson.ErrRPCWalletPassphraseIncorrect
		case waddrmgr.ErrLocked:
			code = btcjson.ErrRPCWalletUnlockNeeded
		case waddrmgr.ErrAccountNotFound:
			code = btcjson.ErrRPCWalletInvalidAccountName
		}
	default:
		switch {
		case errors.Is(err, wallet.ErrNoWallets):
			code = btcjson.ErrRPCWallet
		case errors.Is(err, wallet.ErrDeprecatedAccounts):
			code = btcjson.ErrRPCWalletInvalidAccountName
		case errors.Is(err, wallet.ErrUnsupportedAddressType):
			code = btcjson.ErrRPCInvalidParameter
		case errors.Is(err, wallet.ErrInsufficientFunds):
			code = btcjson.ErrRPCWalletInsufficientFunds
		}
	}
	return &btcjson.RPCError{
		Code:    code,
		Message: err.Error(),
	}
}

// getBalance handles a getbalance request by returning the balance for an
// account (wallet), or an error if the requested account does not
// exist.
func getBalance(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.GetBalanceCmd)

	minConf := 1
	if cmd.MinConf != nil {
		minConf = *cmd.MinConf
	}
	if minConf < 0 {
		return nil, ErrNeedPositiveMinconf
	}

	accountFilter := "*"
	if cmd.Account != nil {
		accountFilter = *cmd.Account
	}

	balance, err := w.CalculateBalance(accountFilter, int32(minConf))
	if err != nil {
		return nil, err
	}
	return balance.ToBTC(), nil
}

// getBestBlock handles a getbestblock request by returning a JSON object
// with the height and hash of the most recently processed block.
func getBestBlock(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	blk := w.SyncedTo()
	result := &btcjson.GetBestBlockResult{
		Hash:   blk.Hash.String(),
		Height: blk.Height,
	}
	return result, nil
}

// getBestBlockHash handles a getbestblockhash request by returning the hash
// of the most recently processed block.
func getBestBlockHash(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	blk := w.SyncedTo()
	return blk.Hash.String(), nil
}

// getBlockCount handles a getblockcount request by returning the chain
// height of the most recently processed block.
func getBlockCount(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	blk := w.SyncedTo()
	return blk.Height, nil
}

// getNewAddress handles a getnewaddress request by returning a new external
// address from the account's pool.
func getNewAddress(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.GetNewAddressCmd)

	account, err := resolveAccount(w, cmd.Account)
	if err != nil {
		return nil, err
	}
	return w.NewAddress(account, "")
}

// getTransaction handles a gettransaction request by returning the
// account's interpretation of the transaction: the net signed amount and a
// detail entry per affected address, with payments of an outgoing transfer
// reconstructed from the records the transaction spent.
func getTransaction(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.GetTransactionCmd)

	txHash, err := chainhash.NewHashFromStr(cmd.Txid)
	if err != nil {
		return nil, DeserializationError{err}
	}

	account, err := w.DefaultAccount()
	if err != nil {
		return nil, err
	}
	effect, err := w.GetTransaction(account, txHash)
	if err != nil {
		return nil, err
	}
	if effect == nil {
		return nil, &ErrNoTransactionInfo
	}

	accountName, err := w.AccountName(account)
	if err != nil {
		return nil, err
	}

	result := btcjson.GetTransactionResult{
		TxID:            effect.TxID,
		Amount:          effect.Amount.ToBTC(),
		Time:            effect.Time,
		TimeReceived:    effect.Time,
		Confirmations:   int64(effect.Confirmations),
		WalletConflicts: []string{},
		Hex:             effect.Hex,
	}
	if effect.BlockHash != nil {
		result.BlockHash = effect.BlockHash.String()
	}

	result.Details = make([]btcjson.GetTransactionDetailsResult, 0,
		len(effect.Details))
	for _, detail := range effect.Details {
		result.Details = append(result.Details,
			btcjson.GetTransactionDetailsResult{
				Account:  accountName,
				Address:  detail.Address,
				Category: detail.Category,
				Amount:   detail.Amount.ToBTC(),
			})
	}
	return result, nil
}

// getWalletInfo handles a getwalletinfo request by returning a summary of
// the loaded wallet: balance aggregates with the mature/immature split,
// lock state and sync height.  The unmarshaled command carries no data and
// is ignored.
func getWalletInfo(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	account, err := w.DefaultAccount()
	if err != nil {
		return nil, err
	}
	bals, err := w.AccountBalances(account)
	if err != nil {
		return nil, err
	}
	blk := w.SyncedTo()

	result := struct {
		Balance            float64 `json:"balance"`
		MatureBalance      float64 `json:"maturebalance"`
		ImmatureBalance    float64 `json:"immaturebalance"`
		UnconfirmedBalance float64 `json:"unconfirmedbalance"`
		Locked             bool    `json:"locked"`
		SyncedHeight       int32   `json:"syncedheight"`
		SyncedHash         string  `json:"syncedhash"`
	}{
		Balance:            bals.Total.ToBTC(),
		MatureBalance:      bals.Mature.ToBTC(),
		ImmatureBalance:    bals.Immature.ToBTC(),
		UnconfirmedBalance: bals.Unconfirmed.ToBTC(),
		Locked:             w.Locked(),
		SyncedHeight:       blk.Height,
		SyncedHash:         blk.Hash.String(),
	}
	return result, nil
}

// listUnspent handles the listunspent command.  The address filter is
// decoded and validated here, before the wallet is consulted, so a single
// malformed address fails the whole request.
func listUnspent(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.ListUnspentCmd)

	minConf := 1
	if cmd.MinConf != nil {
		minConf = *cmd.MinConf
	}
	maxConf := 9999999
	if cmd.MaxConf != nil {
		maxConf = *cmd.MaxConf
	}
	if minConf < 0 {
		return nil, ErrNeedPositiveMinconf
	}
	if maxConf < minConf {
		return nil, ErrConfirmationRange
	}

	var addresses map[string]struct{}
	if cmd.Addresses != nil {
		addresses = make(map[string]struct{}, len(*cmd.Addresses))
		for _, addrStr := range *cmd.Addresses {
			addr, err := btcutil.DecodeAddress(addrStr,
				w.ChainParams().Params)
			if err != nil {
				return nil, &btcjson.RPCError{
					Code: btcjson.ErrRPCInvalidAddressOrKey,
					Message: "Invalid address or key: " +
						addrStr,
				}
			}
			addresses[addr.EncodeAddress()] = struct{}{}
		}
	}

	account, err := w.DefaultAccount()
	if err != nil {
		return nil, err
	}
	return w.ListUnspent(account, int32(minConf), int32(maxConf), addresses)
}

// validateAddress handles the validateaddress command.
func validateAddress(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.ValidateAddressCmd)

	result := btcjson.ValidateAddressWalletResult{}
	addr, err := btcutil.DecodeAddress(cmd.Address, w.ChainParams().Params)
	if err != nil {
		// Use result zero value (IsValid=false).
		return result, nil
	}

	// The address is valid for the active network whether or not the
	// wallet owns it.
	result.IsValid = true
	result.Address = addr.EncodeAddress()

	info, err := w.AddressInfo(addr.EncodeAddress())
	if err != nil {
		if waddrmgr.IsError(err, waddrmgr.ErrAddressNotFound) {
			return result, nil
		}
		return nil, err
	}
	result.IsMine = true
	accountName, err := w.AccountName(info.Account)
	if err != nil {
		return nil, &ErrAccountNameNotFound
	}
	result.Account = accountName
	return result, nil
}

// walletIsLocked handles the walletislocked extension request by
// returning the current lock state (false for unlocked, true for locked)
// of an account.
func walletIsLocked(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	return w.Locked(), nil
}

// walletLock handles a walletlock request by locking the all account
// wallets, returning an error if any wallet is not encrypted (for example,
// a watching-only wallet).
func walletLock(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	err := w.Lock()
	if err != nil && !waddrmgr.IsError(err, waddrmgr.ErrLocked) {
		return nil, err
	}
	return nil, nil
}

// walletPassphrase responds to the walletpassphrase request by unlocking
// the wallet.  The decryption key is derived and saved in memory until the
// timeout expires, or indefinitely for a zero timeout.
func walletPassphrase(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.WalletPassphraseCmd)

	if cmd.Timeout < 0 {
		return nil, ErrNeedPositiveTimeout
	}
	timeout := time.Duration(cmd.Timeout) * time.Second
	return nil, w.Unlock([]byte(cmd.Passphrase), timeout)
}

// walletPassphraseChange responds to the walletpassphrasechange request
// by changing the wallet's private passphrase.  The wallet is locked
// afterwards.
func walletPassphraseChange(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.WalletPassphraseChangeCmd)

	err := w.ChangePrivatePassphrase([]byte(cmd.OldPassphrase),
		[]byte(cmd.NewPassphrase))
	return nil, err
}

// resolveAccount maps an optional account-name parameter onto the wallet's
// account number.  An unset or empty name selects the wallet's first
// account; anything else must name an existing account.
func resolveAccount(w *wallet.Wallet, name *string) (uint32, error) {
	if name == nil || *name == "" || *name == "*" {
		return w.DefaultAccount()
	}
	account, err := w.LookupAccount(*name)
	if err != nil {
		if waddrmgr.IsError(err, waddrmgr.ErrAccountNotFound) {
			return 0, &ErrAccountNameNotFound
		}
		return 0, err
	}
	return account, nil
}
