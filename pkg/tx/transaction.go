package tx

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/halcyon-labs/halcyon-chain/pkg/crypto"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// NonceNotApplicable marks a transaction that bypasses per-account nonce
// ordering (system transactions such as consensus updates).
const NonceNotApplicable int64 = -1

// Transaction is a signed state operation.
type Transaction struct {
	Operation Operation     `json:"operation"`
	Address   types.Address `json:"address"`
	Nonce     int64         `json:"nonce"`
	Timestamp int64         `json:"timestamp"`
	PubKey    []byte        `json:"pub_key,omitempty"`
	Signature []byte        `json:"signature,omitempty"`

	// SkipVerif disables signature verification. Set when a transaction is
	// built with an explicit address override instead of the local key.
	SkipVerif bool `json:"skip_verif,omitempty"`
}

// txJSON is the JSON representation with hex-encoded key material.
type txJSON struct {
	Operation Operation     `json:"operation"`
	Address   types.Address `json:"address"`
	Nonce     int64         `json:"nonce"`
	Timestamp int64         `json:"timestamp"`
	PubKey    string        `json:"pub_key,omitempty"`
	Signature string        `json:"signature,omitempty"`
	SkipVerif bool          `json:"skip_verif,omitempty"`
}

// MarshalJSON encodes the transaction with hex-encoded pubkey and signature.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	j := txJSON{
		Operation: t.Operation,
		Address:   t.Address,
		Nonce:     t.Nonce,
		Timestamp: t.Timestamp,
		SkipVerif: t.SkipVerif,
	}
	if t.PubKey != nil {
		j.PubKey = hex.EncodeToString(t.PubKey)
	}
	if t.Signature != nil {
		j.Signature = hex.EncodeToString(t.Signature)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a transaction with hex-encoded pubkey and signature.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var j txJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	t.Operation = j.Operation
	t.Address = j.Address
	t.Nonce = j.Nonce
	t.Timestamp = j.Timestamp
	t.SkipVerif = j.SkipVerif
	t.PubKey = nil
	t.Signature = nil
	if j.PubKey != "" {
		b, err := hex.DecodeString(j.PubKey)
		if err != nil {
			return fmt.Errorf("invalid pub_key hex: %w", err)
		}
		t.PubKey = b
	}
	if j.Signature != "" {
		b, err := hex.DecodeString(j.Signature)
		if err != nil {
			return fmt.Errorf("invalid signature hex: %w", err)
		}
		t.Signature = b
	}
	return nil
}

// signingTx is the canonical signed subset of a transaction.
type signingTx struct {
	Operation Operation     `json:"operation"`
	Address   types.Address `json:"address"`
	Nonce     int64         `json:"nonce"`
	Timestamp int64         `json:"timestamp"`
}

// SigningBytes returns the canonical bytes covered by the signature.
func (t *Transaction) SigningBytes() []byte {
	data, err := json.Marshal(signingTx{
		Operation: t.Operation,
		Address:   t.Address,
		Nonce:     t.Nonce,
		Timestamp: t.Timestamp,
	})
	if err != nil {
		// Operation trees marshal without error by construction.
		panic(fmt.Sprintf("tx signing bytes: %v", err))
	}
	return data
}

// Hash computes the transaction hash over the signing bytes.
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash(t.SigningBytes())
}

// Sign signs the transaction with the given key and stamps the pubkey.
func (t *Transaction) Sign(key crypto.Signer) error {
	hash := t.Hash()
	sig, err := key.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	t.PubKey = key.PublicKey()
	t.Signature = sig
	return nil
}

// VerifySignature checks the transaction signature and that the pubkey
// matches the sender address. Transactions flagged SkipVerif pass.
func (t *Transaction) VerifySignature() error {
	if t.SkipVerif {
		return nil
	}
	if len(t.PubKey) == 0 || len(t.Signature) == 0 {
		return fmt.Errorf("transaction missing pubkey or signature")
	}
	if crypto.AddressFromPubKey(t.PubKey) != t.Address {
		return fmt.Errorf("pubkey does not match sender address %s", t.Address)
	}
	hash := t.Hash()
	if !crypto.VerifySignature(hash[:], t.Signature, t.PubKey) {
		return fmt.Errorf("invalid transaction signature")
	}
	return nil
}

// Validate performs structural and signature checks.
func (t *Transaction) Validate() error {
	if err := t.Operation.Validate(); err != nil {
		return fmt.Errorf("operation: %w", err)
	}
	if t.Nonce < NonceNotApplicable {
		return fmt.Errorf("invalid nonce %d", t.Nonce)
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("invalid timestamp %d", t.Timestamp)
	}
	return t.VerifySignature()
}

// IsNonced reports whether the transaction participates in per-account
// nonce ordering.
func (t *Transaction) IsNonced() bool {
	return t.Nonce >= 0
}
