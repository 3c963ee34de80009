package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"hash"
)

// HashEqual compares two encoded digests in constant time.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Digest is an io.Writer that accumulates a SHA-256 sum, so a download can
// be hashed while it is copied to disk.
type Digest struct {
	h hash.Hash
}

func NewDigest() *Digest { return &Digest{h: sha256.New()} }

func (d *Digest) Write(p []byte) (int, error) { return d.h.Write(p) }

// Hex is the sum in the form logged and compared locally.
func (d *Digest) Hex() string { return hex.EncodeToString(d.h.Sum(nil)) }

// Base64 is the sum in the form S3 returns as x-amz-checksum-sha256.
func (d *Digest) Base64() string { return base64.StdEncoding.EncodeToString(d.h.Sum(nil)) }
