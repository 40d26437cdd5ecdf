package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKeyLength is returned when a secret does not decode to the
	// 32 bytes AES-256 requires.
	ErrInvalidKeyLength = errors.New("crypto: secret must decode to 32 bytes")
	// ErrCrypto is returned when encryption or decryption fails. Callers
	// should treat it as recoverable and report it rather than abort.
	ErrCrypto = errors.New("crypto: message codec failure")
)

// KeyBytes is the symmetric key length required by the codec.
const KeyBytes = 32

// IVBytes is the initialisation vector length, one AES block.
const IVBytes = aes.BlockSize

// Encrypt enciphers plaintext with AES-256-CBC under the hex-encoded secret,
// generating a fresh random IV per call. Identical plaintexts therefore never
// produce identical ciphertexts.
//
// The ciphertext carries no authentication tag; integrity is not
// independently verifiable. That mirrors the wire format the clients expect
// and is a documented limitation of the scheme.
func Encrypt(plaintext []byte, secret string) (iv, ciphertext []byte, err error) {
	block, err := newBlockCipher(secret)
	if err != nil {
		return nil, nil, err
	}

	iv = make([]byte, IVBytes)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("%w: read iv: %v", ErrCrypto, err)
	}

	padded := padPKCS7(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return iv, ciphertext, nil
}

// Decrypt is the exact inverse of Encrypt. A truncated ciphertext, a wrong
// secret or a wrong IV yields ErrCrypto, never silent garbage.
func Decrypt(ciphertext []byte, secret string, iv []byte) ([]byte, error) {
	block, err := newBlockCipher(secret)
	if err != nil {
		return nil, err
	}

	if len(iv) != IVBytes {
		return nil, fmt.Errorf("%w: iv is %d bytes, want %d", ErrCrypto, len(iv), IVBytes)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of the block size", ErrCrypto, len(ciphertext))
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := unpadPKCS7(padded, aes.BlockSize)
	if err != nil {
		return nil, err
	}

	return plaintext, nil
}

func newBlockCipher(secret string) (cipher.Block, error) {
	key, err := hex.DecodeString(secret)
	if err != nil || len(key) != KeyBytes {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return block, nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length", ErrCrypto)
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrCrypto)
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: invalid padding", ErrCrypto)
		}
	}

	return data[:len(data)-padding], nil
}
