// Package account manages the node's signing identity.
//
// The node key is a secp256k1 key derived from a BIP-39 mnemonic at the
// hardened BIP-44 path m/44'/9293'/index'. The configured account index
// selects which derived key the node runs with, so one mnemonic can back a
// whole fleet of test peers.
package account

import (
	"fmt"

	"github.com/halcyon-labs/halcyon-chain/pkg/crypto"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// BIP-44 derivation constants.
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeHalcyon is our placeholder coin type (hardened).
	CoinTypeHalcyon = bip32.FirstHardenedChild + 9293

	// MnemonicEntropyBits is the entropy size for 24-word mnemonics.
	MnemonicEntropyBits = 256
)

// Account is the node's signing identity.
type Account struct {
	key     *crypto.PrivateKey
	address types.Address
	index   uint32
}

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// FromMnemonic derives the account at the given index from a mnemonic.
func FromMnemonic(mnemonic string, index uint32) (*Account, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	child := master
	for _, step := range []uint32{PurposeBIP44, CoinTypeHalcyon, bip32.FirstHardenedChild + index} {
		child, err = child.NewChildKey(step)
		if err != nil {
			return nil, fmt.Errorf("derive account %d: %w", index, err)
		}
	}

	// bip32 private keys are 33 bytes with a leading 0x00.
	raw := child.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return FromPrivateKeyBytes(raw, index)
}

// FromPrivateKeyBytes wraps a raw 32-byte secret as an account.
func FromPrivateKeyBytes(raw []byte, index uint32) (*Account, error) {
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("account key: %w", err)
	}
	return &Account{
		key:     key,
		address: crypto.AddressFromPubKey(key.PublicKey()),
		index:   index,
	}, nil
}

// Generate creates an account from a fresh random key (no mnemonic backing).
func Generate() (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Account{
		key:     key,
		address: crypto.AddressFromPubKey(key.PublicKey()),
	}, nil
}

// Address returns the account address.
func (a *Account) Address() types.Address {
	return a.address
}

// Index returns the derivation index the account was created with.
func (a *Account) Index() uint32 {
	return a.index
}

// Sign produces a Schnorr signature over a 32-byte hash.
func (a *Account) Sign(hash []byte) ([]byte, error) {
	return a.key.Sign(hash)
}

// PublicKey returns the compressed 33-byte public key.
func (a *Account) PublicKey() []byte {
	return a.key.PublicKey()
}

// PrivateKeyBytes returns the raw 32-byte secret (for keystore persistence).
func (a *Account) PrivateKeyBytes() []byte {
	return a.key.Serialize()
}

// Zero wipes the in-memory private key.
func (a *Account) Zero() {
	a.key.Zero()
}
