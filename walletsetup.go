package main

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/stakesuite/stakewallet/internal/prompt"
	"github.com/stakesuite/stakewallet/wallet"
)

// networkDir returns the directory name of a network directory to hold wallet
// files.
func networkDir(dataDir string, chainParams *chaincfg.Params) string {
	netname := chainParams.Name

	// For now, we must always name the testnet data directory as "testnet"
	// and not "testnet3" or any other version, as the chaincfg testnet3
	// paramaters will likely be switched to being named "testnet3" in the
	// future.  This is done to future proof that change, and an upgrade
	// plan to move the testnet3 data directory can be worked out later.
	if chainParams.Net == wire.TestNet3 {
		netname = "testnet"
	}

	return filepath.Join(dataDir, netname)
}

// createWallet prompts the user for information needed to generate a new
// wallet and generates the wallet accordingly.  The new wallet will reside
// at the provided path.
func createWallet(cfg *config) error {
	dbDir := networkDir(cfg.AppDataDir, activeNet.Params)
	loader := wallet.NewLoader(activeNet, dbDir, nil)

	// Start by prompting for the private passphrase.
	privPass, err := prompt.PrivatePass()
	if err != nil {
		return err
	}

	// Ascertain the wallet generation seed.  This will either be an
	// automatically generated value the user has already confirmed or a
	// value the user has entered which has already been validated.
	reader := bufio.NewReader(os.Stdin)
	seed, err := prompt.Seed(reader)
	if err != nil {
		return err
	}

	fmt.Println("Creating the wallet...")
	_, err = loader.CreateNewWallet(seed, privPass)
	if err != nil {
		return err
	}
	if err := loader.UnloadWallet(); err != nil {
		return err
	}

	fmt.Println("The wallet has been created successfully.")
	return nil
}

// createSimulationWallet is intended to be called from the rpcclient and
// used to create a wallet for actors involved in simulations.
func createSimulationWallet(cfg *config) error {
	// Simulation wallet password is 'password'.
	privPass := []byte("password")

	netDir := networkDir(cfg.AppDataDir, activeNet.Params)
	fmt.Println("Creating the wallet...")

	seed := make([]byte, prompt.SeedLength)
	if _, err := rand.Read(seed); err != nil {
		return err
	}

	loader := wallet.NewLoader(activeNet, netDir, nil)
	if _, err := loader.CreateNewWallet(seed, privPass); err != nil {
		return err
	}
	if err := loader.UnloadWallet(); err != nil {
		return err
	}

	fmt.Println("The wallet has been created successfully.")
	return nil
}

// checkCreateDir checks that the path exists and is a directory.
// If path does not exist, it is created.
func checkCreateDir(path string) error {
	if fi, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Attempt data directory creation
			if err = os.MkdirAll(path, 0700); err != nil {
				return fmt.Errorf("cannot create directory: %s", err)
			}
		} else {
			return fmt.Errorf("error checking directory: %s", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("path '%s' is not a directory", path)
		}
	}

	return nil
}
