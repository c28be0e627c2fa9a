package main

import (
	"os"
	"runtime"

	"github.com/stakesuite/stakewallet/wallet"
)

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the
// program can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s", version())

	dbDir := networkDir(cfg.AppDataDir, activeNet.Params)
	loader := wallet.NewLoader(activeNet, dbDir, nil)

	w, err := loader.FirstWallet()
	if err != nil {
		log.Errorf("Cannot open wallet: %v", err)
		return err
	}
	syncBlock := w.SyncedTo()
	log.Infof("Opened wallet synced to block %v (height %d)",
		syncBlock.Hash, syncBlock.Height)

	// Add an interrupt handler to shut down the wallet cleanly.  Interrupt
	// handlers run in LIFO order, so the wallet (which should be closed
	// last) is added first.
	addInterruptHandler(func() {
		err := loader.UnloadWallet()
		if err != nil && err != wallet.ErrNoWallets {
			log.Errorf("Failed to close wallet: %v", err)
		}
	})

	<-interruptHandlersDone
	log.Info("Shutdown complete")
	return nil
}
