package tx

import (
	"encoding/json"
	"testing"

	"github.com/halcyon-labs/halcyon-chain/pkg/crypto"
)

func signedTx(t *testing.T) (*Transaction, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	op, err := SetValue("/test/path", map[string]int{"v": 1})
	if err != nil {
		t.Fatalf("build op: %v", err)
	}
	transaction := &Transaction{
		Operation: op,
		Address:   crypto.AddressFromPubKey(key.PublicKey()),
		Nonce:     7,
		Timestamp: 1234,
	}
	if err := transaction.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return transaction, key
}

func TestSignAndVerify(t *testing.T) {
	transaction, _ := signedTx(t)
	if err := transaction.Validate(); err != nil {
		t.Fatalf("valid tx rejected: %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	transaction, _ := signedTx(t)
	transaction.Nonce++
	if err := transaction.VerifySignature(); err == nil {
		t.Error("tampered tx passed verification")
	}
}

func TestVerifyRejectsWrongSender(t *testing.T) {
	transaction, _ := signedTx(t)
	transaction.Address[0] ^= 0xff
	if err := transaction.VerifySignature(); err == nil {
		t.Error("tx with mismatched sender passed verification")
	}
}

func TestSkipVerifBypassesSignature(t *testing.T) {
	op, err := SetValue("/x", 1)
	if err != nil {
		t.Fatal(err)
	}
	transaction := &Transaction{
		Operation: op,
		Nonce:     NonceNotApplicable,
		Timestamp: 1,
		SkipVerif: true,
	}
	if err := transaction.Validate(); err != nil {
		t.Errorf("skip_verif tx rejected: %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	transaction, _ := signedTx(t)
	data, err := json.Marshal(transaction)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Transaction
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Hash() != transaction.Hash() {
		t.Error("hash changed across JSON round trip")
	}
	if err := decoded.VerifySignature(); err != nil {
		t.Errorf("decoded tx failed verification: %v", err)
	}
}

func TestOperationValidate(t *testing.T) {
	setOp, err := SetValue("/a", 1)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		op      Operation
		wantErr bool
	}{
		{"set value", setOp, false},
		{"delete", DeleteValue("/a"), false},
		{"set list", SetList(setOp, DeleteValue("/b")), false},
		{"set value without ref", Operation{Type: OpSetValue}, true},
		{"empty set list", Operation{Type: OpSet}, true},
		{"nested set", SetList(SetList(setOp)), true},
		{"unknown type", Operation{Type: "INC_VALUE", Ref: "/a"}, true},
	}
	for _, tt := range tests {
		if err := tt.op.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr = %v", tt.name, err, tt.wantErr)
		}
	}
}
