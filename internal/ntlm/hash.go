package ntlm

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // HMAC-MD5 is mandated by [MS-NLMP] for NTLMv2, not used for general hashing
	"crypto/rc4" //nolint:gosec // RC4 only unwraps the KEY_EXCH session key, never message payloads
	"encoding/binary"
	"strings"

	"golang.org/x/crypto/md4" //nolint:staticcheck // MD4 is the NT hash algorithm, not a choice
)

// ComputeNTHash computes the NT hash of a password: MD4(UTF16LE(password)).
// [MS-NLMP] 3.3.1
func ComputeNTHash(password string) [16]byte {
	h := md4.New()
	h.Write(encodeUTF16LE(password))
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ComputeNTLMv2Hash computes HMAC-MD5(NTHash, UPPERCASE(username)+domain)
// over the UTF-16LE encoding of the combined string. [MS-NLMP] 3.3.2
func ComputeNTLMv2Hash(ntHash [16]byte, username, domain string) [16]byte {
	combined := strings.ToUpper(username) + domain
	mac := hmac.New(md5.New, ntHash[:])
	mac.Write(encodeUTF16LE(combined))

	var out [16]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ValidateNTLMv2Response checks the client's NTProofStr against the
// server challenge and returns the derived session base key.
//
// ntResponse is NTProofStr (16 bytes) followed by the client blob.
// [MS-NLMP] 3.3.2
func ValidateNTLMv2Response(
	ntHash [16]byte,
	username, domain string,
	serverChallenge [8]byte,
	ntResponse []byte,
) ([16]byte, error) {
	var sessionKey [16]byte
	if len(ntResponse) < 24 {
		return sessionKey, ErrResponseTooShort
	}

	ntProofStr := ntResponse[:16]
	clientBlob := ntResponse[16:]
	ntlmv2Hash := ComputeNTLMv2Hash(ntHash, username, domain)

	mac := hmac.New(md5.New, ntlmv2Hash[:])
	mac.Write(serverChallenge[:])
	mac.Write(clientBlob)
	expectedNTProofStr := mac.Sum(nil)

	if !hmac.Equal(ntProofStr, expectedNTProofStr) {
		return sessionKey, ErrAuthenticationFailed
	}

	mac = hmac.New(md5.New, ntlmv2Hash[:])
	mac.Write(ntProofStr)
	copy(sessionKey[:], mac.Sum(nil))

	return sessionKey, nil
}

// DeriveSigningKey returns the key used for message signing: the
// session base key directly, or the RC4-unwrapped ExportedSessionKey
// when KEY_EXCH was negotiated. [MS-NLMP] 3.2.5.1.2
func DeriveSigningKey(sessionBaseKey [16]byte, flags NegotiateFlag, encryptedKey []byte) [16]byte {
	if flags&FlagKeyExch == 0 {
		return sessionBaseKey
	}
	if len(encryptedKey) != 16 {
		return sessionBaseKey
	}

	cipher, err := rc4.NewCipher(sessionBaseKey[:])
	if err != nil {
		return sessionBaseKey
	}

	var exportedSessionKey [16]byte
	cipher.XORKeyStream(exportedSessionKey[:], encryptedKey)
	return exportedSessionKey
}

// signingChecksum computes the [MS-NLMP] 3.4.3 NTLMSSP_MESSAGE_SIGNATURE
// HMAC-MD5 checksum of message over the given sequence number, truncated
// to 8 bytes as the protocol requires.
func signingChecksum(signingKey [16]byte, seqNum uint32, message []byte) [8]byte {
	seq := make([]byte, 4)
	binary.LittleEndian.PutUint32(seq, seqNum)

	mac := hmac.New(md5.New, signingKey[:])
	mac.Write(seq)
	mac.Write(message)

	var out [8]byte
	copy(out[:], mac.Sum(nil))
	return out
}
