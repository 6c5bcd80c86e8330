package core

// Crypto primitives for block signing: ECDSA over P-256 with RFC 6979
// deterministic nonces, canonical-JSON + SHA-256 as the signed payload.
//
// Keys travel as PEM on disk; over the wire a public key is the PEM body
// with header/footer stripped and internal newlines replaced by spaces.
// Verify reconstitutes the PEM before parsing.

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"strings"

	"github.com/sirupsen/logrus"
)

var cryptoLog = logrus.WithField("component", "crypto")

// ErrBadSignature is returned by decodePublicKeyWire for an empty wire-form
// key. Verify reports every key, encoding or verification failure as false,
// which callers collapse to the "signature" rejection reason.
var ErrBadSignature = errors.New("bad signature")

// canonicalJSON serializes v deterministically enough for signing: Go's
// encoding/json already emits struct fields in declaration order, which is
// stable across processes for a fixed struct definition, satisfying the
// protocol's "serialize with signature removed, then SHA-256" rule.
func canonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// LoadPrivateKey parses a PEM-encoded EC private key (P-256).
func LoadPrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("crypto: no PEM block found")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return key, nil
}

// LoadPublicKey parses a PEM-encoded EC public key.
func LoadPublicKey(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("crypto: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	ecpub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("crypto: not an EC public key")
	}
	return ecpub, nil
}

// EncodePublicKeyWire renders a public key as the wire form used in the
// address/link protocol: PEM body, header/footer stripped, newlines
// replaced by spaces.
func EncodePublicKeyWire(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	full := string(pem.EncodeToMemory(block))
	lines := strings.Split(strings.TrimSpace(full), "\n")
	body := lines[1 : len(lines)-1]
	return strings.Join(body, " "), nil
}

// decodePublicKeyWire reconstitutes a PEM block from the space-separated
// wire form and parses it.
func decodePublicKeyWire(wire string) (*ecdsa.PublicKey, error) {
	fields := strings.Fields(wire)
	if len(fields) == 0 {
		return nil, ErrBadSignature
	}
	var buf bytes.Buffer
	buf.WriteString("-----BEGIN PUBLIC KEY-----\n")
	for _, f := range fields {
		buf.WriteString(f)
		buf.WriteByte('\n')
	}
	buf.WriteString("-----END PUBLIC KEY-----\n")
	return LoadPublicKey(buf.Bytes())
}

// Sign hashes payload with SHA-256 and signs it with priv using RFC 6979
// deterministic nonces, emitting the 64-byte (r||s) concatenation as a
// little-endian hex integer.
func Sign(priv *ecdsa.PrivateKey, payload []byte) (string, error) {
	if priv.Curve != elliptic.P256() {
		return "", errors.New("crypto: private key is not on P-256")
	}
	digest := sha256.Sum256(payload)
	r, s, err := signDeterministic(priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	return encodeSignature(r, s), nil
}

// Verify checks sigHex against payload for the public key carried in
// pubWire (space-separated PEM body). Uses the standard FIPS-186-3
// verification path, which accepts any valid (r,s), deterministic or not.
func Verify(pubWire string, payload []byte, sigHex string) bool {
	pub, err := decodePublicKeyWire(pubWire)
	if err != nil {
		cryptoLog.WithError(err).Warn("verify: bad public key")
		return false
	}
	r, s, err := decodeSignature(sigHex)
	if err != nil {
		cryptoLog.WithError(err).Warn("verify: bad signature encoding")
		return false
	}
	digest := sha256.Sum256(payload)
	return ecdsa.Verify(pub, digest[:], r, s)
}

// encodeSignature packs (r,s) as a 64-byte big-endian pair, then reads
// the whole 64-byte buffer back as one little-endian integer, hex-encoded.
func encodeSignature(r, s *big.Int) string {
	buf := make([]byte, 64)
	r.FillBytes(buf[:32])
	s.FillBytes(buf[32:])
	le := reverse(buf)
	return hex.EncodeToString(le)
}

func decodeSignature(sigHex string) (*big.Int, *big.Int, error) {
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) != 64 {
		return nil, nil, fmt.Errorf("crypto: signature has %d bytes, want 64", len(raw))
	}
	buf := reverse(raw)
	r := new(big.Int).SetBytes(buf[:32])
	s := new(big.Int).SetBytes(buf[32:])
	return r, s, nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// signDeterministic implements RFC 6979 deterministic k generation over
// P-256, then standard ECDSA signing with that k. No dependency in the
// retrieved corpus provides deterministic P-256 ECDSA (the pack's
// deterministic-nonce libraries are all secp256k1-specific), so this is
// built directly on crypto/ecdsa + crypto/hmac.
func signDeterministic(priv *ecdsa.PrivateKey, hash []byte) (r, s *big.Int, err error) {
	c := priv.Curve
	n := c.Params().N
	if n.Sign() == 0 {
		return nil, nil, errors.New("crypto: zero curve order")
	}
	qlen := n.BitLen()
	hashHex := bitsToInt(hash, qlen, n)

	holen := sha256.Size
	v := bytes.Repeat([]byte{0x01}, holen)
	k := bytes.Repeat([]byte{0x00}, holen)

	xBytes := int2octets(priv.D, qlen)
	hBytes := bits2octets(hash, n, qlen)

	k = hmacSum(sha256.New, k, append(append(append(v, 0x00), xBytes...), hBytes...))
	v = hmacSum(sha256.New, k, v)
	k = hmacSum(sha256.New, k, append(append(append(v, 0x01), xBytes...), hBytes...))
	v = hmacSum(sha256.New, k, v)

	for {
		var t []byte
		for len(t) < (qlen+7)/8 {
			v = hmacSum(sha256.New, k, v)
			t = append(t, v...)
		}
		kCandidate := bitsToInt(t, qlen, n)
		if kCandidate.Sign() > 0 && kCandidate.Cmp(n) < 0 {
			r, s = ecdsaSignWithK(priv, hashHex, kCandidate)
			if r.Sign() != 0 && s.Sign() != 0 {
				return r, s, nil
			}
		}
		k = hmacSum(sha256.New, k, append(v, 0x00))
		v = hmacSum(sha256.New, k, v)
	}
}

func hmacSum(h func() hash.Hash, key, msg []byte) []byte {
	mac := hmac.New(h, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// bitsToInt implements RFC 6979 section 2.3.2 (bits2int) for a byte string.
func bitsToInt(b []byte, qlen int, n *big.Int) *big.Int {
	v := new(big.Int).SetBytes(b)
	blen := len(b) * 8
	if blen > qlen {
		v.Rsh(v, uint(blen-qlen))
	}
	return v
}

// int2octets implements RFC 6979 section 2.3.3.
func int2octets(v *big.Int, qlen int) []byte {
	rolen := (qlen + 7) / 8
	buf := v.Bytes()
	if len(buf) >= rolen {
		return buf[len(buf)-rolen:]
	}
	out := make([]byte, rolen)
	copy(out[rolen-len(buf):], buf)
	return out
}

// bits2octets implements RFC 6979 section 2.3.4.
func bits2octets(b []byte, n *big.Int, qlen int) []byte {
	z1 := bitsToInt(b, qlen, n)
	z2 := new(big.Int).Sub(z1, n)
	if z2.Sign() < 0 {
		return int2octets(z1, qlen)
	}
	return int2octets(z2, qlen)
}

// ecdsaSignWithK performs the ECDSA signing equations for a chosen k.
func ecdsaSignWithK(priv *ecdsa.PrivateKey, e *big.Int, k *big.Int) (r, s *big.Int) {
	c := priv.Curve
	n := c.Params().N
	x, _ := c.ScalarBaseMult(k.Bytes())
	r = new(big.Int).Mod(x, n)
	if r.Sign() == 0 {
		return r, big.NewInt(0)
	}
	kInv := new(big.Int).ModInverse(k, n)
	s = new(big.Int).Mul(priv.D, r)
	s.Add(s, e)
	s.Mul(s, kInv)
	s.Mod(s, n)
	return r, s
}

// GenerateKeyPair creates a new P-256 keypair, used by `latticed keygen`.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// AddressFromPublicKey derives the account address carried on-chain from a
// public key: its wire-encoded PEM body (space-separated, header/footer
// stripped). The address doubles as the public key used to verify every
// block on that account's chain.
func AddressFromPublicKey(pub *ecdsa.PublicKey) (string, error) {
	return EncodePublicKeyWire(pub)
}
