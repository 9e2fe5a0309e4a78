package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test vector: private key 1 derives this address.
const (
	testPrivateKey  = "0000000000000000000000000000000000000000000000000000000000000001"
	testAddressHex  = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
	polygonChainID  = 137
)

func testOrder() OrderPayload {
	return OrderPayload{
		Salt:          "12345",
		Maker:         testAddressHex,
		Signer:        testAddressHex,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "111222333",
		MakerAmount:   "48000000",
		TakerAmount:   "100000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}
}

func TestNewSigner_DerivesAddress(t *testing.T) {
	s, err := NewSigner(testPrivateKey, polygonChainID)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddressHex), s.Address())

	// A 0x prefix is accepted too.
	s2, err := NewSigner("0x"+testPrivateKey, polygonChainID)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), s2.Address())
}

func TestNewSigner_RejectsGarbage(t *testing.T) {
	_, err := NewSigner("not-a-key", polygonChainID)
	assert.Error(t, err)
}

func TestSignOrder_DeterministicAndRecoverable(t *testing.T) {
	s, err := NewSigner(testPrivateKey, polygonChainID)
	require.NoError(t, err)

	sig1, err := s.SignOrder(testOrder())
	require.NoError(t, err)
	sig2, err := s.SignOrder(testOrder())
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
	require.True(t, strings.HasPrefix(sig1, "0x"))
	assert.Len(t, sig1, 2+65*2) // 0x + 65 bytes hex

	// The signature recovers to the signer's address.
	raw := common.FromHex(sig1)
	require.Len(t, raw, 65)
	raw[64] -= 27

	structHash, err := orderStructHash(testOrder())
	require.NoError(t, err)
	digest := eip712Hash(s.domainSep, structHash)

	pub, err := ethcrypto.SigToPub(digest, raw)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), ethcrypto.PubkeyToAddress(*pub))
}

func TestSignOrder_ChangingFieldChangesSignature(t *testing.T) {
	s, err := NewSigner(testPrivateKey, polygonChainID)
	require.NoError(t, err)

	base, err := s.SignOrder(testOrder())
	require.NoError(t, err)

	bumped := testOrder()
	bumped.MakerAmount = "48000001"
	other, err := s.SignOrder(bumped)
	require.NoError(t, err)

	assert.NotEqual(t, base, other)
}

func TestSignOrder_RejectsNonNumericFields(t *testing.T) {
	s, err := NewSigner(testPrivateKey, polygonChainID)
	require.NoError(t, err)

	bad := testOrder()
	bad.TokenID = "0xdeadbeef" // must be decimal
	_, err = s.SignOrder(bad)
	assert.Error(t, err)
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testPrivateKey, polygonChainID)
	require.NoError(t, err)

	sig, err := s.SignAuthMessage(testAddressHex, 1766516400, 0)
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2)

	// Same inputs, same signature.
	sig2, err := s.SignAuthMessage(testAddressHex, 1766516400, 0)
	require.NoError(t, err)
	assert.Equal(t, sig, sig2)

	// Different timestamp, different signature.
	sig3, err := s.SignAuthMessage(testAddressHex, 1766516401, 0)
	require.NoError(t, err)
	assert.NotEqual(t, sig, sig3)
}

func TestL2HeadersAt_Deterministic(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key",
		Secret:     "c2VjcmV0LWJ5dGVz", // base64("secret-bytes")
		Passphrase: "pass",
	}

	h1 := auth.L2HeadersAt(testAddressHex, "POST", "/order", `{"x":1}`, 1766516400)
	h2 := auth.L2HeadersAt(testAddressHex, "POST", "/order", `{"x":1}`, 1766516400)
	assert.Equal(t, h1, h2)

	assert.Equal(t, testAddressHex, h1["POLY_ADDRESS"])
	assert.Equal(t, "api-key", h1["POLY_API_KEY"])
	assert.Equal(t, "1766516400", h1["POLY_TIMESTAMP"])
	assert.Equal(t, "pass", h1["POLY_PASSPHRASE"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])

	// Any component of the signed message changes the signature.
	hBody := auth.L2HeadersAt(testAddressHex, "POST", "/order", `{"x":2}`, 1766516400)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], hBody["POLY_SIGNATURE"])
	hPath := auth.L2HeadersAt(testAddressHex, "POST", "/other", `{"x":1}`, 1766516400)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], hPath["POLY_SIGNATURE"])
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef123456", Secret: "supersecretvalue"}
	s := auth.String()
	assert.NotContains(t, s, "123456")
	assert.NotContains(t, s, "secretvalue")
	assert.Contains(t, s, "abcd")
}

func TestEncryptDecryptKey_RoundTrip(t *testing.T) {
	encrypted, err := EncryptKey(testPrivateKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(encrypted, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testPrivateKey, got)
}

func TestEncryptKey_FileDeclaresKDFParameters(t *testing.T) {
	encrypted, err := EncryptKey(testPrivateKey, "hunter2")
	require.NoError(t, err)

	var kf keyFile
	require.NoError(t, json.Unmarshal(encrypted, &kf))
	assert.Equal(t, keyFileVersion, kf.Version)
	assert.Equal(t, keyFileKDF, kf.KDF)
	assert.Positive(t, kf.Iterations)
	assert.NotEmpty(t, kf.Salt)
	assert.NotEmpty(t, kf.Nonce)
}

func TestDecryptKey_RejectsUnknownKDF(t *testing.T) {
	encrypted, err := EncryptKey(testPrivateKey, "hunter2")
	require.NoError(t, err)

	var kf keyFile
	require.NoError(t, json.Unmarshal(encrypted, &kf))
	kf.KDF = "scrypt"
	tampered, err := json.Marshal(kf)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "hunter2")
	assert.ErrorContains(t, err, "unsupported kdf")
}

func TestDecryptKey_WrongPassword(t *testing.T) {
	encrypted, err := EncryptKey(testPrivateKey, "hunter2")
	require.NoError(t, err)

	_, err = DecryptKey(encrypted, "wrong")
	assert.Error(t, err)
}

func TestLoadKey_PrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: testPrivateKey})
	require.NoError(t, err)
	assert.Equal(t, testPrivateKey, got)
}

func TestLoadKey_ReadsEncryptedFile(t *testing.T) {
	encrypted, err := EncryptKey(testPrivateKey, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.key.enc")
	require.NoError(t, os.WriteFile(path, encrypted, 0o600))

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testPrivateKey, got)
}

func TestLoadKey_FailsWithoutAnySource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.Error(t, err)
}
