package evm

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	relay "github.com/mark3labs/permit-relay"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// WithKeystore loads the relayer key from an encrypted V3 keystore file.
func WithKeystore(keystorePath, password string) SignerOption {
	return func(s *Signer) error {
		data, err := os.ReadFile(keystorePath)
		if err != nil {
			return fmt.Errorf("%w: %v", relay.ErrInvalidKeystore, err)
		}

		key, err := keystore.DecryptKey(data, password)
		if err != nil {
			return fmt.Errorf("%w: %v", relay.ErrInvalidKeystore, err)
		}

		s.privateKey = key.PrivateKey
		return nil
	}
}

// WithMnemonic derives the relayer key at m/44'/60'/0'/0/{accountIndex}.
func WithMnemonic(mnemonic string, accountIndex uint32) SignerOption {
	path := append(accounts.DerivationPath{}, accounts.DefaultBaseDerivationPath...)
	path[len(path)-1] = accountIndex
	return withMnemonicPath(mnemonic, "", path)
}

// WithMnemonicPath derives the relayer key along an explicit BIP32 path such
// as "m/44'/60'/1'/0/0", with an optional BIP39 passphrase.
func WithMnemonicPath(mnemonic, passphrase, path string) SignerOption {
	parsed, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return func(*Signer) error {
			return fmt.Errorf("%w: %v", relay.ErrInvalidMnemonic, err)
		}
	}
	return withMnemonicPath(mnemonic, passphrase, parsed)
}

func withMnemonicPath(mnemonic, passphrase string, path accounts.DerivationPath) SignerOption {
	return func(s *Signer) error {
		if !bip39.IsMnemonicValid(mnemonic) {
			return relay.ErrInvalidMnemonic
		}

		seed := bip39.NewSeed(mnemonic, passphrase)
		privateKey, err := deriveKey(seed, path)
		if err != nil {
			return fmt.Errorf("%w: %v", relay.ErrInvalidMnemonic, err)
		}

		s.privateKey = privateKey
		return nil
	}
}

// deriveKey walks path from the BIP32 master key of seed. Hardened
// components already carry the 0x80000000 offset.
func deriveKey(seed []byte, path accounts.DerivationPath) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	for _, index := range path {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, err
		}
	}

	return crypto.ToECDSA(key.Key)
}
