package ipsec

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/subtle"
)

// constantTimeEqual compares two ICVs without leaking timing information
// about where they first differ.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// hmacMD5_96 computes the 96-bit truncated HMAC-MD5 ICV (RFC 2403).
func hmacMD5_96(key, data []byte) []byte {
	mac := hmac.New(md5.New, key)
	mac.Write(data)
	return mac.Sum(nil)[:ICVTruncatedLen]
}

// hmacSHA1_96 computes the 96-bit truncated HMAC-SHA1 ICV (RFC 2404).
func hmacSHA1_96(key, data []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(data)
	return mac.Sum(nil)[:ICVTruncatedLen]
}

// computeICV dispatches to the SA's configured authentication algorithm.
func computeICV(alg AuthAlg, key, data []byte) ([]byte, error) {
	switch alg {
	case AuthHMACMD5:
		return hmacMD5_96(key, data), nil
	case AuthHMACSHA1:
		return hmacSHA1_96(key, data), nil
	default:
		return nil, ErrBadAlgorithm
	}
}

// cbcCipher encrypts or decrypts data in place using the SA's configured
// cipher in CBC mode with an 8-byte IV. data's length must be a multiple
// of the DES block size (8); the padding discipline in esp.go guarantees
// that for ciphertext built by this package. Single DES takes the first 8
// key bytes, 3DES the full 24.
func cbcCipher(alg EncAlg, data, key, iv []byte, encrypt bool) error {
	if len(data)%des.BlockSize != 0 {
		return ErrBadPacket
	}
	var (
		block cipher.Block
		err   error
	)
	switch alg {
	case EncDES:
		block, err = des.NewCipher(key[:8])
	case Enc3DES:
		block, err = des.NewTripleDESCipher(key[:24])
	default:
		return ErrBadAlgorithm
	}
	if err != nil {
		return ErrBadKey(err)
	}
	var mode cipher.BlockMode
	if encrypt {
		mode = cipher.NewCBCEncrypter(block, iv)
	} else {
		mode = cipher.NewCBCDecrypter(block, iv)
	}
	mode.CryptBlocks(data, data)
	return nil
}

// ErrBadKey wraps a stdlib key-setup error as a StatusBadKey failure.
func ErrBadKey(cause error) error {
	return newStatusErr(StatusBadKey, "bad key material: "+cause.Error())
}
