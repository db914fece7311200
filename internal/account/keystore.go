package account

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Keystore encryption constants.
const (
	saltSize = 32
	// Encrypted format: salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
	headerSize = saltSize + 4 + 4 + 1
)

// encryptionParams holds Argon2id parameters.
type encryptionParams struct {
	memory      uint32 // in KiB
	iterations  uint32
	parallelism uint8
}

func defaultParams() encryptionParams {
	return encryptionParams{
		memory:      64 * 1024, // 64 MB
		iterations:  3,
		parallelism: 4,
	}
}

func deriveKey(password, salt []byte, params encryptionParams) []byte {
	return argon2.IDKey(
		password,
		salt,
		params.iterations,
		params.memory,
		params.parallelism,
		chacha20poly1305.KeySize,
	)
}

// encrypt seals data with Argon2id + XChaCha20-Poly1305.
func encrypt(data, password []byte, params encryptionParams) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(password, salt, params)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, data, nil)

	out := make([]byte, 0, headerSize+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, params.memory)
	out = binary.LittleEndian.AppendUint32(out, params.iterations)
	out = append(out, params.parallelism)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	for i := range key {
		key[i] = 0
	}
	return out, nil
}

// decrypt opens data sealed by encrypt.
func decrypt(data, password []byte) ([]byte, error) {
	if len(data) < headerSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("keystore data too short")
	}
	salt := data[:saltSize]
	params := encryptionParams{
		memory:      binary.LittleEndian.Uint32(data[saltSize:]),
		iterations:  binary.LittleEndian.Uint32(data[saltSize+4:]),
		parallelism: data[saltSize+8],
	}
	rest := data[headerSize:]

	key := deriveKey(password, salt, params)
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := rest[:aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, rest[aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("keystore decrypt (wrong passphrase?): %w", err)
	}
	return plaintext, nil
}

// keyFileName names the keystore file for a derivation index.
func keyFileName(index uint32) string {
	return fmt.Sprintf("node-%d.key", index)
}

// LoadOrCreate returns the account at the given index, loading it from the
// keystore directory when present and deriving + persisting it otherwise.
// With an empty mnemonic a random key is generated on first use.
func LoadOrCreate(dir, mnemonic string, index uint32, password []byte) (*Account, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	path := filepath.Join(dir, keyFileName(index))

	if data, err := os.ReadFile(path); err == nil {
		raw, err := decrypt(data, password)
		if err != nil {
			return nil, fmt.Errorf("open keystore %s: %w", path, err)
		}
		return FromPrivateKeyBytes(raw, index)
	}

	var acct *Account
	var err error
	if mnemonic != "" {
		acct, err = FromMnemonic(mnemonic, index)
	} else {
		acct, err = Generate()
	}
	if err != nil {
		return nil, err
	}

	sealed, err := encrypt(acct.PrivateKeyBytes(), password, defaultParams())
	if err != nil {
		return nil, fmt.Errorf("seal keystore: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return nil, fmt.Errorf("write keystore %s: %w", path, err)
	}
	return acct, nil
}
