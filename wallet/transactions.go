package wallet

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	bolt "go.etcd.io/bbolt"

	"github.com/stakesuite/stakewallet/waddrmgr"
	"github.com/stakesuite/stakewallet/wtxmgr"
)

// Transaction effect categories.  A single transaction may carry details of
// several categories, e.g. a send with payment details and an unrelated
// receive at another address of the same account.
const (
	CategoryReceive = "receive"
	CategorySend    = "send"
	CategoryStake   = "stake"
)

// TransactionDetail describes the effect a transaction had on one address.
type TransactionDetail struct {
	Address  string
	Category string
	Amount   btcutil.Amount
}

// TransactionEffect is the wallet's interpretation of a single transaction
// for one account: the net signed amount, where and when the transaction was
// mined, and the per-address details that make up the net amount.
type TransactionEffect struct {
	TxID string

	// Amount is the sum of the detail amounts.
	Amount btcutil.Amount

	// BlockHash is nil while the transaction is unmined.
	BlockHash *chainhash.Hash

	// Time is the unix time the transaction was first observed.
	Time int64

	// Confirmations carries the wtxmgr.Unconfirmed sentinel while the
	// transaction is unmined.
	Confirmations int32

	Details []TransactionDetail

	// Hex is the serialized transaction.  Empty when the ledger never
	// recorded it, never absent.
	Hex string
}

// GetTransaction interprets the effect the given transaction had on the
// account.  A transaction the ledger never recorded for the account is not
// an error: the result is (nil, nil) and the caller decides how to surface
// irrelevance.
//
// Each recorded history entry is classified independently and all entries
// contribute to the result:
//
//   - An entry at a change address means the transaction spent the account's
//     funds and returned change.  The outgoing transfer is reconstructed
//     from the payments recorded against the inputs this transaction
//     consumed, one negated "send" detail per payment.  The reconstruction
//     runs at most once per call no matter how many change entries match.
//   - An entry flagged coin-stake is a block reward.  Its detail amount is
//     the network's configured stake reward, not the stored amount, since
//     the stored amount includes the returned stake deposit.
//   - Any other entry is an ordinary "receive" for its stored amount.
func (w *Wallet) GetTransaction(account uint32,
	txid *chainhash.Hash) (*TransactionEffect, error) {

	var effect *TransactionEffect
	err := w.db.View(func(tx *bolt.Tx) error {
		addrNs := tx.Bucket(waddrmgrNamespaceKey)
		txNs := tx.Bucket(wtxmgrNamespaceKey)

		history, err := w.TxStore.HistoryForTx(txNs, account, txid)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return nil
		}

		syncBlock := w.Manager.SyncedTo()
		first := history[0].Record

		effect = &TransactionEffect{
			TxID: txid.String(),
			Time: first.Received.Unix(),
			Confirmations: wtxmgr.Confirms(first.Height,
				syncBlock.Height),
		}
		if first.Mined() {
			blockHash := first.BlockHash
			effect.BlockHash = &blockHash
		}
		if first.SerializedTx != nil {
			effect.Hex = hex.EncodeToString(first.SerializedTx)
		}

		handledSpend := false
		for _, entry := range history {
			internal, err := w.isChangeAddress(addrNs, entry.Address)
			if err != nil {
				return err
			}

			switch {
			case internal:
				if handledSpend {
					continue
				}
				handledSpend = true
				err := w.appendSendDetails(txNs, account,
					txid, effect)
				if err != nil {
					return err
				}

			case entry.Record.CoinStake:
				reward := w.chainParams.StakeReward
				effect.Amount += reward
				effect.Details = append(effect.Details,
					TransactionDetail{
						Address:  entry.Address,
						Category: CategoryStake,
						Amount:   reward,
					})

			default:
				effect.Amount += entry.Record.Amount
				effect.Details = append(effect.Details,
					TransactionDetail{
						Address:  entry.Address,
						Category: CategoryReceive,
						Amount:   entry.Record.Amount,
					})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return effect, nil
}

// isChangeAddress reports whether the encoded address is one of the
// account's internal change addresses.  Addresses the manager never
// recorded are treated as external.
func (w *Wallet) isChangeAddress(addrNs *bolt.Bucket, encoded string) (bool, error) {
	addr, err := w.Manager.Address(addrNs, encoded)
	if err != nil {
		if waddrmgr.IsError(err, waddrmgr.ErrAddressNotFound) {
			return false, nil
		}
		return false, err
	}
	return addr.Internal, nil
}

// appendSendDetails reconstructs the outgoing transfer of the spending
// transaction txid from the payments recorded against the account records it
// consumed.  Every consumed record carries the same payment list, so the
// first one found is authoritative.
func (w *Wallet) appendSendDetails(txNs *bolt.Bucket, account uint32,
	txid *chainhash.Hash, effect *TransactionEffect) error {

	spentRecs, err := w.TxStore.RecordsBySpendingTx(txNs, account, txid)
	if err != nil {
		return err
	}
	if len(spentRecs) == 0 {
		return nil
	}

	for _, payment := range spentRecs[0].SpentBy.Payments {
		effect.Amount -= payment.Amount
		effect.Details = append(effect.Details, TransactionDetail{
			Address:  payment.Address,
			Category: CategorySend,
			Amount:   -payment.Amount,
		})
	}
	return nil
}
