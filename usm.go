// Copyright 2012-2016 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package wsnmp

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"hash"
	"sync"
)

// passphraseStretchLength is the 1,048,576-byte stream length RFC 3414
// Appendix A.2 (and RFC 7860 for the SHA-2 variants) specifies for
// turning a short passphrase into Ku.
const passphraseStretchLength = 1048576

// USMSecurityParameters carries everything a v3 session needs to
// authenticate and, optionally, encrypt scoped PDUs for one user, plus
// the authoritative engine's identity as discovered or refreshed by
// the session.
type USMSecurityParameters struct {
	mu sync.Mutex

	AuthoritativeEngineID    []byte
	AuthoritativeEngineBoots uint32
	AuthoritativeEngineTime  uint32
	UserName                 []byte

	// msgAuthenticationParameters / msgPrivacyParameters as they
	// appeared on the wire for the message currently being built or
	// having just been parsed.
	AuthenticationParameters []byte
	PrivacyParameters        []byte

	AuthProtocol AuthProtocol
	PrivProtocol PrivProtocol

	AuthPassphrase string
	PrivPassphrase string

	// localizedAuthKey / localizedPrivKey cache the keys derived from
	// (protocol, passphrase, AuthoritativeEngineID). A change in
	// AuthoritativeEngineID invalidates both.
	localizedAuthKey []byte
	localizedPrivKey []byte
	cachedForEngine  string

	desSalt uint32
	aesSalt uint64
}

// Validate enforces the USM construction requirements for the given
// security level.
func (sp *USMSecurityParameters) Validate(flags MsgFlags) error {
	if err := validateV3SecurityLevel(flags); err != nil {
		return err
	}
	level := flags & AuthPriv
	switch level {
	case AuthPriv:
		if sp.PrivProtocol <= NoPriv {
			return fmt.Errorf("wsnmp: privProtocol required for authPriv")
		}
		if sp.PrivPassphrase == "" {
			return fmt.Errorf("wsnmp: privPassphrase required for authPriv")
		}
		fallthrough
	case AuthNoPriv:
		if sp.AuthProtocol <= NoAuth {
			return fmt.Errorf("wsnmp: authProtocol required for authNoPriv/authPriv")
		}
		if sp.AuthPassphrase == "" {
			return fmt.Errorf("wsnmp: authPassphrase required for authNoPriv/authPriv")
		}
		fallthrough
	case NoAuthNoPriv:
		if len(sp.UserName) == 0 {
			return fmt.Errorf("wsnmp: userName required")
		}
	}
	return nil
}

func newHash(p AuthProtocol) (func() hash.Hash, int, error) {
	switch p {
	case MD5:
		return md5.New, md5.Size, nil
	case SHA1:
		return sha1.New, sha1.Size, nil
	case SHA224:
		return sha256.New224, sha256.Size224, nil
	case SHA256:
		return sha256.New, sha256.Size, nil
	case SHA384:
		return sha512.New384, sha512.Size384, nil
	case SHA512:
		return sha512.New, sha512.Size, nil
	default:
		return nil, 0, fmt.Errorf("wsnmp: unsupported auth protocol %s", p)
	}
}

// digestLen is the number of bytes of the HMAC output used as
// msgAuthenticationParameters: 12 for MD5/SHA-1 (RFC 3414) and the
// SHA-224/SHA-256 profiles, 16 and 24 for SHA-384/SHA-512 (RFC 7860).
func digestLen(p AuthProtocol) int {
	switch p {
	case SHA384:
		return 16
	case SHA512:
		return 24
	default:
		return 12
	}
}

// localizeKey implements RFC 3414 Appendix A.2 / RFC 7860 §4.1's
// password-to-key and key-localization algorithm:
//  1. stretch the passphrase to a 1,048,576-byte stream and digest it
//     to Ku,
//  2. localize as Kul = HASH(Ku || engineID || Ku),
//  3. the localized key is the hash's full natural output length.
func localizeKey(p AuthProtocol, passphrase string, engineID []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("wsnmp: passphrase must not be empty")
	}
	newHashFn, _, err := newHash(p)
	if err != nil {
		return nil, err
	}

	ku := newHashFn()
	pi := 0
	pass := []byte(passphrase)
	var chunk [64]byte
	for i := 0; i < passphraseStretchLength; i += 64 {
		for e := 0; e < 64; e++ {
			chunk[e] = pass[pi%len(pass)]
			pi++
		}
		ku.Write(chunk[:])
	}
	kuSum := ku.Sum(nil)

	local := newHashFn()
	local.Write(kuSum)
	local.Write(engineID)
	local.Write(kuSum)
	return local.Sum(nil), nil
}

// extendKeyBlumenthal implements the RFC 3826-style (draft-blumenthal)
// key extension used when an AES-192/256 key is longer than the
// configured auth hash's natural digest: the localized key is
// followed by HASH(localizedKey).
func extendKeyBlumenthal(p AuthProtocol, localized []byte) []byte {
	newHashFn, _, err := newHash(p)
	if err != nil {
		return localized
	}
	h := newHashFn()
	h.Write(localized)
	return append(append([]byte(nil), localized...), h.Sum(nil)...)
}

func privKeyLen(p PrivProtocol) int {
	switch p {
	case DES, AES128:
		return 16
	case AES192:
		return 24
	case AES256:
		return 32
	default:
		return 0
	}
}

// ensureKeys localizes and caches the auth/priv keys for the current
// AuthoritativeEngineID, recomputing them if the engineID changed
// since the last call.
func (sp *USMSecurityParameters) ensureKeys() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	engineKey := string(sp.AuthoritativeEngineID)
	if sp.cachedForEngine == engineKey && (sp.localizedAuthKey != nil || sp.AuthProtocol <= NoAuth) {
		return nil
	}

	sp.localizedAuthKey = nil
	sp.localizedPrivKey = nil

	if sp.AuthProtocol > NoAuth {
		key, err := localizeKey(sp.AuthProtocol, sp.AuthPassphrase, sp.AuthoritativeEngineID)
		if err != nil {
			return err
		}
		sp.localizedAuthKey = key
	}

	if sp.PrivProtocol > NoPriv {
		// Priv always implies auth (Validate rejects noAuth+priv), so
		// the localized auth key is always available here. DES/AES128
		// use it directly; AES192/256 extend it when the auth hash's
		// digest is shorter than the required key length.
		base := sp.localizedAuthKey
		need := privKeyLen(sp.PrivProtocol)
		for len(base) < need {
			base = extendKeyBlumenthal(sp.AuthProtocol, base)
		}
		sp.localizedPrivKey = base[:need]
	}

	sp.cachedForEngine = engineKey
	return nil
}

// authenticate computes HMAC(Kul, wholeMsg) over msg (which must
// already have its msgAuthenticationParameters slot zeroed to the
// correct length) and writes the truncated MAC into that slot at
// authParamOffset.
func (sp *USMSecurityParameters) authenticate(msg []byte, authParamOffset int) error {
	if err := sp.ensureKeys(); err != nil {
		return err
	}
	newHashFn, _, err := newHash(sp.AuthProtocol)
	if err != nil {
		return err
	}
	mac := hmac.New(newHashFn, sp.localizedAuthKey)
	mac.Write(msg)
	digest := mac.Sum(nil)
	n := digestLen(sp.AuthProtocol)
	copy(msg[authParamOffset:authParamOffset+n], digest[:n])
	return nil
}

// verify recomputes the HMAC over msg (whose auth parameter slot has
// already been zeroed by the caller) and compares it in constant time
// against expected.
func (sp *USMSecurityParameters) verify(msg []byte, expected []byte) (bool, error) {
	if err := sp.ensureKeys(); err != nil {
		return false, err
	}
	newHashFn, _, err := newHash(sp.AuthProtocol)
	if err != nil {
		return false, err
	}
	mac := hmac.New(newHashFn, sp.localizedAuthKey)
	mac.Write(msg)
	digest := mac.Sum(nil)
	n := digestLen(sp.AuthProtocol)
	if len(expected) != n {
		return false, nil
	}
	return subtle.ConstantTimeCompare(digest[:n], expected) == 1, nil
}

// nextSalt allocates the next privacy salt for this security
// parameters value: a monotonically incrementing counter combined
// with engineBoots for DES, or a 64-bit counter for AES.
func (sp *USMSecurityParameters) nextSalt() []byte {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	switch sp.PrivProtocol {
	case AES128, AES192, AES256:
		sp.aesSalt++
		salt := make([]byte, 8)
		binary.BigEndian.PutUint64(salt, sp.aesSalt)
		return salt
	default: // DES
		sp.desSalt++
		salt := make([]byte, 8)
		binary.BigEndian.PutUint32(salt, sp.AuthoritativeEngineBoots)
		binary.BigEndian.PutUint32(salt[4:], sp.desSalt)
		return salt
	}
}

// encrypt applies the configured privacy transform to a plaintext
// scopedPDU and returns the ciphertext. It also assigns
// sp.PrivacyParameters to the salt that must be transmitted alongside.
func (sp *USMSecurityParameters) encrypt(plaintext []byte) ([]byte, error) {
	if err := sp.ensureKeys(); err != nil {
		return nil, err
	}

	switch sp.PrivProtocol {
	case AES128, AES192, AES256:
		salt := sp.nextSalt()
		sp.PrivacyParameters = salt

		var iv [16]byte
		binary.BigEndian.PutUint32(iv[0:4], sp.AuthoritativeEngineBoots)
		binary.BigEndian.PutUint32(iv[4:8], sp.AuthoritativeEngineTime)
		copy(iv[8:], salt)

		block, err := aes.NewCipher(sp.localizedPrivKey)
		if err != nil {
			return nil, fmt.Errorf("%w: aes.NewCipher: %v", ErrPriv, err)
		}
		stream := cipher.NewCFBEncrypter(block, iv[:])
		ciphertext := make([]byte, len(plaintext))
		stream.XORKeyStream(ciphertext, plaintext)
		return ciphertext, nil

	case DES:
		salt := sp.nextSalt()
		sp.PrivacyParameters = salt

		preIV := sp.localizedPrivKey[8:16]
		var iv [8]byte
		for i := range iv {
			iv[i] = preIV[i] ^ salt[i]
		}
		block, err := des.NewCipher(sp.localizedPrivKey[:8])
		if err != nil {
			return nil, fmt.Errorf("%w: des.NewCipher: %v", ErrPriv, err)
		}
		padded := append([]byte(nil), plaintext...)
		if rem := len(padded) % des.BlockSize; rem != 0 {
			padded = append(padded, make([]byte, des.BlockSize-rem)...)
		}
		ciphertext := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(ciphertext, padded)
		return ciphertext, nil

	default:
		return plaintext, nil
	}
}

// decrypt reverses encrypt, using the received PrivacyParameters as
// the salt.
func (sp *USMSecurityParameters) decrypt(ciphertext []byte) ([]byte, error) {
	if err := sp.ensureKeys(); err != nil {
		return nil, err
	}

	switch sp.PrivProtocol {
	case AES128, AES192, AES256:
		var iv [16]byte
		binary.BigEndian.PutUint32(iv[0:4], sp.AuthoritativeEngineBoots)
		binary.BigEndian.PutUint32(iv[4:8], sp.AuthoritativeEngineTime)
		copy(iv[8:], sp.PrivacyParameters)

		block, err := aes.NewCipher(sp.localizedPrivKey)
		if err != nil {
			return nil, fmt.Errorf("%w: aes.NewCipher: %v", ErrPriv, err)
		}
		stream := cipher.NewCFBDecrypter(block, iv[:])
		plaintext := make([]byte, len(ciphertext))
		stream.XORKeyStream(plaintext, ciphertext)
		return plaintext, nil

	case DES:
		if len(ciphertext)%des.BlockSize != 0 {
			return nil, fmt.Errorf("%w: ciphertext not a multiple of DES block size", ErrPriv)
		}
		if len(sp.PrivacyParameters) != 8 {
			return nil, fmt.Errorf("%w: privacy parameters must be 8 bytes", ErrPriv)
		}
		preIV := sp.localizedPrivKey[8:16]
		var iv [8]byte
		for i := range iv {
			iv[i] = preIV[i] ^ sp.PrivacyParameters[i]
		}
		block, err := des.NewCipher(sp.localizedPrivKey[:8])
		if err != nil {
			return nil, fmt.Errorf("%w: des.NewCipher: %v", ErrPriv, err)
		}
		plaintext := make([]byte, len(ciphertext))
		cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(plaintext, ciphertext)
		return plaintext, nil

	default:
		return ciphertext, nil
	}
}

// marshal encodes the USMSecurityParameters as the SEQUENCE wrapped in
// msgSecurityParameters' OCTET STRING. It returns the encoded bytes
// and the offset (within those bytes) at which msgAuthenticationParameters'
// content begins, so the caller can patch in the real MAC once the
// whole message is known.
func (sp *USMSecurityParameters) marshal(flags MsgFlags) (out []byte, authParamContentOffset int, err error) {
	var buf bytes.Buffer

	buf.Write([]byte{byte(TagOctetString), byte(len(sp.AuthoritativeEngineID))})
	buf.Write(sp.AuthoritativeEngineID)

	boots := marshalUint32(sp.AuthoritativeEngineBoots)
	buf.Write([]byte{0x02, byte(len(boots))})
	buf.Write(boots)

	engTime := marshalUint32(sp.AuthoritativeEngineTime)
	buf.Write([]byte{0x02, byte(len(engTime))})
	buf.Write(engTime)

	buf.Write([]byte{byte(TagOctetString), byte(len(sp.UserName))})
	buf.Write(sp.UserName)

	if flags&AuthNoPriv != 0 {
		n := digestLen(sp.AuthProtocol)
		buf.Write([]byte{byte(TagOctetString), byte(n)})
		authParamContentOffset = buf.Len()
		buf.Write(make([]byte, n))
	} else {
		buf.Write([]byte{byte(TagOctetString), 0})
	}

	if flags&AuthPriv == AuthPriv {
		privLen, lerr := marshalLength(len(sp.PrivacyParameters))
		if lerr != nil {
			return nil, 0, lerr
		}
		buf.Write([]byte{byte(TagOctetString)})
		buf.Write(privLen)
		buf.Write(sp.PrivacyParameters)
	} else {
		buf.Write([]byte{byte(TagOctetString), 0})
	}

	seqLen, err := marshalLength(buf.Len())
	if err != nil {
		return nil, 0, err
	}
	seqHeaderLen := 1 + len(seqLen)
	out = append([]byte{byte(Sequence)}, seqLen...)
	out = append(out, buf.Bytes()...)
	if authParamContentOffset != 0 {
		authParamContentOffset += seqHeaderLen
	}
	return out, authParamContentOffset, nil
}

// unmarshal decodes a USMSecurityParameters SEQUENCE and returns the
// authentication-parameters bytes as received (for verification), the
// number of bytes consumed, and authParamOffset: the offset of the
// msgAuthenticationParameters content relative to the start of buf
// (the SEQUENCE tag byte), mirroring the offset marshal returns. The
// v3 message decoder adds its own base to get an absolute offset into
// the whole datagram, then zeroes that span before calling verify.
func unmarshalUSMSecurityParameters(buf []byte) (sp *USMSecurityParameters, consumed int, authParamOffset int, err error) {
	fail := func(reason string) (*USMSecurityParameters, int, int, error) {
		return nil, 0, 0, &DecodeError{Reason: reason}
	}

	if len(buf) < 2 || PDUType(buf[0]) != Sequence {
		return fail("expected SEQUENCE for USM security parameters")
	}
	total, header, err := parseLength(buf)
	if err != nil {
		return fail(err.Error())
	}
	if total > len(buf) {
		return fail("USM security parameters TLV longer than remaining buffer")
	}
	cursor := header
	sp = &USMSecurityParameters{}

	if cursor >= total || ValueType(buf[cursor]) != TagOctetString {
		return fail("expected OCTET STRING for authoritativeEngineID")
	}
	idTotal, idHeader, err := parseLength(buf[cursor:])
	if err != nil {
		return fail(err.Error())
	}
	if idTotal-idHeader > 32 {
		return fail("authoritativeEngineID longer than 32 bytes")
	}
	sp.AuthoritativeEngineID = append([]byte(nil), buf[cursor+idHeader:cursor+idTotal]...)
	cursor += idTotal

	boots, n, err := parseTLVInt(buf[cursor:total])
	if err != nil {
		return nil, 0, 0, err
	}
	cursor += n
	sp.AuthoritativeEngineBoots = uint32(boots)

	engTime, n, err := parseTLVInt(buf[cursor:total])
	if err != nil {
		return nil, 0, 0, err
	}
	cursor += n
	sp.AuthoritativeEngineTime = uint32(engTime)

	if cursor >= total || ValueType(buf[cursor]) != TagOctetString {
		return fail("expected OCTET STRING for userName")
	}
	userTotal, userHeader, err := parseLength(buf[cursor:])
	if err != nil {
		return fail(err.Error())
	}
	sp.UserName = append([]byte(nil), buf[cursor+userHeader:cursor+userTotal]...)
	cursor += userTotal

	if cursor >= total || ValueType(buf[cursor]) != TagOctetString {
		return fail("expected OCTET STRING for msgAuthenticationParameters")
	}
	authTotal, authHeader, err := parseLength(buf[cursor:])
	if err != nil {
		return fail(err.Error())
	}
	sp.AuthenticationParameters = append([]byte(nil), buf[cursor+authHeader:cursor+authTotal]...)
	authParamOffset = cursor + authHeader
	cursor += authTotal

	if cursor >= total || ValueType(buf[cursor]) != TagOctetString {
		return fail("expected OCTET STRING for msgPrivacyParameters")
	}
	privTotal, privHeader, err := parseLength(buf[cursor:])
	if err != nil {
		return fail(err.Error())
	}
	sp.PrivacyParameters = append([]byte(nil), buf[cursor+privHeader:cursor+privTotal]...)
	cursor += privTotal

	return sp, total, authParamOffset, nil
}
