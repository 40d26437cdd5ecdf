package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrKeyAgreement is returned when key material does not belong to the
	// expected Diffie-Hellman group.
	ErrKeyAgreement = errors.New("crypto: key agreement failed")
)

// modpGroup14Hex is the 2048-bit MODP prime from RFC 3526, section 3.
const modpGroup14Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

// groupBytes is the byte width of group elements (2048 bits).
const groupBytes = 256

// hkdfInfo binds derived secrets to this protocol version.
const hkdfInfo = "astro-consult/consultation-secret/v1"

var (
	modpPrime     *big.Int
	modpGenerator = big.NewInt(2)
)

func init() {
	p, ok := new(big.Int).SetString(modpGroup14Hex, 16)
	if !ok {
		panic("crypto: invalid MODP group prime")
	}
	modpPrime = p
}

// KeyPair holds one party's hex-encoded Diffie-Hellman key material.
// Public values are always encoded as exactly 256 bytes (512 hex digits).
type KeyPair struct {
	Public  string
	Private string
}

// GenerateKeyPair returns a fresh key pair in the fixed 2048-bit MODP group.
func GenerateKeyPair() (KeyPair, error) {
	// 256-bit exponents give the full strength of the group and keep
	// modular exponentiation affordable.
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return KeyPair{}, fmt.Errorf("crypto: read random exponent: %w", err)
	}

	priv := new(big.Int).SetBytes(raw)
	// Keep the exponent inside [2, p-2].
	two := big.NewInt(2)
	priv.Mod(priv, new(big.Int).Sub(modpPrime, two))
	priv.Add(priv, two)

	pub := new(big.Int).Exp(modpGenerator, priv, modpPrime)

	return KeyPair{
		Public:  hex.EncodeToString(leftPad(pub.Bytes(), groupBytes)),
		Private: hex.EncodeToString(priv.Bytes()),
	}, nil
}

// DeriveSecret computes the Diffie-Hellman shared value between the caller's
// private key and the peer's public key, then condenses it through
// HKDF-SHA256 into exactly 32 bytes of symmetric key material, hex encoded.
//
// The derivation is deterministic: both participants obtain the same secret
// regardless of which side calls it.
func DeriveSecret(privateKey, peerPublic string) (string, error) {
	priv, err := decodeGroupScalar(privateKey)
	if err != nil {
		return "", err
	}

	pub, err := decodeGroupElement(peerPublic)
	if err != nil {
		return "", err
	}

	shared := new(big.Int).Exp(pub, priv, modpPrime)

	reader := hkdf.New(sha256.New, leftPad(shared.Bytes(), groupBytes), nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return "", fmt.Errorf("crypto: derive key: %w", err)
	}

	return hex.EncodeToString(key), nil
}

func decodeGroupScalar(value string) (*big.Int, error) {
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: malformed private key", ErrKeyAgreement)
	}
	return new(big.Int).SetBytes(raw), nil
}

func decodeGroupElement(value string) (*big.Int, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed public key", ErrKeyAgreement)
	}
	if len(raw) != groupBytes {
		return nil, fmt.Errorf("%w: public key is %d bytes, group requires %d", ErrKeyAgreement, len(raw), groupBytes)
	}

	element := new(big.Int).SetBytes(raw)

	// Reject the degenerate elements 0, 1 and p-1, which collapse the
	// shared value to a constant.
	one := big.NewInt(1)
	upper := new(big.Int).Sub(modpPrime, one)
	if element.Cmp(one) <= 0 || element.Cmp(upper) >= 0 {
		return nil, fmt.Errorf("%w: public key outside group range", ErrKeyAgreement)
	}

	return element, nil
}

func leftPad(raw []byte, size int) []byte {
	if len(raw) >= size {
		return raw
	}
	padded := make([]byte, size)
	copy(padded[size-len(raw):], raw)
	return padded
}
