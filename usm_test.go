package wsnmp

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKeyLocalizationRFC3414A31 reproduces the MD5 key-localization
// vector from RFC 3414 Appendix A.3.1: passphrase "maplesyrup",
// engineID 00 00 00 00 00 00 00 00 00 00 00 02.
func TestKeyLocalizationRFC3414A31(t *testing.T) {
	engineID, err := hex.DecodeString("000000000000000000000002")
	require.NoError(t, err)

	got, err := localizeKey(MD5, "maplesyrup", engineID)
	require.NoError(t, err)

	want, err := hex.DecodeString("526f5eed9fcce26f8964c2930787d82b")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAuthenticateAndVerifyRoundTrip(t *testing.T) {
	sp := &USMSecurityParameters{
		AuthoritativeEngineID: []byte{0x80, 0x00, 0x1f, 0x88, 0x80},
		UserName:              []byte("operator"),
		AuthProtocol:          SHA256,
		AuthPassphrase:        "authpassphrase1",
	}

	msg := make([]byte, 32)
	for i := range msg {
		msg[i] = byte(i)
	}
	authOffset := 10
	n := digestLen(SHA256)
	for i := 0; i < n; i++ {
		msg[authOffset+i] = 0
	}

	require.NoError(t, sp.authenticate(msg, authOffset))
	mac := append([]byte(nil), msg[authOffset:authOffset+n]...)
	assert.False(t, bytes.Equal(mac, make([]byte, n)))

	for i := 0; i < n; i++ {
		msg[authOffset+i] = 0
	}
	ok, err := sp.verify(msg, mac)
	require.NoError(t, err)
	assert.True(t, ok)

	mac[0] ^= 0xff
	ok, err = sp.verify(msg, mac)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAESCFBEncryptDecryptRoundTrip(t *testing.T) {
	for _, proto := range []PrivProtocol{AES128, AES192, AES256} {
		sp := &USMSecurityParameters{
			AuthoritativeEngineID:    []byte{0x80, 0x00, 0x1f, 0x88, 0x80},
			AuthoritativeEngineBoots: 5,
			AuthoritativeEngineTime:  200,
			UserName:                 []byte("operator"),
			AuthProtocol:             SHA256,
			AuthPassphrase:           "authpassphrase1",
			PrivProtocol:             proto,
			PrivPassphrase:           "privpassphrase1",
		}

		plaintext := []byte("this is a scoped pdu payload...")
		ciphertext, err := sp.encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		sp2 := &USMSecurityParameters{
			AuthoritativeEngineID:    sp.AuthoritativeEngineID,
			AuthoritativeEngineBoots: sp.AuthoritativeEngineBoots,
			AuthoritativeEngineTime:  sp.AuthoritativeEngineTime,
			UserName:                 sp.UserName,
			AuthProtocol:             sp.AuthProtocol,
			AuthPassphrase:           sp.AuthPassphrase,
			PrivProtocol:             sp.PrivProtocol,
			PrivPassphrase:           sp.PrivPassphrase,
			PrivacyParameters:        sp.PrivacyParameters,
		}
		decrypted, err := sp2.decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestDESEncryptDecryptRoundTrip(t *testing.T) {
	sp := &USMSecurityParameters{
		AuthoritativeEngineID:    []byte{0x80, 0x00, 0x1f, 0x88, 0x80},
		AuthoritativeEngineBoots: 1,
		UserName:                 []byte("operator"),
		AuthProtocol:             MD5,
		AuthPassphrase:           "authpassphrase1",
		PrivProtocol:             DES,
		PrivPassphrase:           "privpassphrase1",
	}
	plaintext := []byte("12345678abcdefgh")
	ciphertext, err := sp.encrypt(plaintext)
	require.NoError(t, err)

	sp2 := &USMSecurityParameters{
		AuthoritativeEngineID:    sp.AuthoritativeEngineID,
		AuthoritativeEngineBoots: sp.AuthoritativeEngineBoots,
		UserName:                 sp.UserName,
		AuthProtocol:             sp.AuthProtocol,
		AuthPassphrase:           sp.AuthPassphrase,
		PrivProtocol:             sp.PrivProtocol,
		PrivPassphrase:           sp.PrivPassphrase,
		PrivacyParameters:        sp.PrivacyParameters,
	}
	decrypted, err := sp2.decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	sp := &USMSecurityParameters{UserName: []byte("u"), AuthProtocol: MD5}
	err := sp.Validate(AuthNoPriv)
	assert.Error(t, err)
}

func TestEnsureKeysInvalidatedOnEngineChange(t *testing.T) {
	sp := &USMSecurityParameters{
		AuthoritativeEngineID: []byte{0x01},
		UserName:              []byte("u"),
		AuthProtocol:          SHA1,
		AuthPassphrase:        "passphrase1234",
	}
	require.NoError(t, sp.ensureKeys())
	first := append([]byte(nil), sp.localizedAuthKey...)

	sp.AuthoritativeEngineID = []byte{0x02}
	require.NoError(t, sp.ensureKeys())
	assert.NotEqual(t, first, sp.localizedAuthKey)
}
