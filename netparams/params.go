package netparams

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.  It embeds the consensus parameters of the
// underlying chain and adds the proof-of-stake parameters the wallet needs to
// interpret transactions.
type Params struct {
	*chaincfg.Params

	// StakeReward is the fixed block reward credited by a coinstake
	// transaction.  The reward is a consensus constant of the network and
	// is reported in place of the raw recorded amount when classifying
	// stake transactions.
	StakeReward btcutil.Amount
}

// MainNetParams contains parameters specific to the main network.
var MainNetParams = Params{
	Params:      &chaincfg.MainNetParams,
	StakeReward: 4 * btcutil.SatoshiPerBitcoin,
}

// TestNet3Params contains parameters specific to the test network.
var TestNet3Params = Params{
	Params:      &chaincfg.TestNet3Params,
	StakeReward: 4 * btcutil.SatoshiPerBitcoin,
}

// SimNetParams contains parameters specific to the simulation test network.
// The stake reward is intentionally small so reward substitution is easy to
// spot in regression tests.
var SimNetParams = Params{
	Params:      &chaincfg.SimNetParams,
	StakeReward: 1 * btcutil.SatoshiPerBitcoin,
}
