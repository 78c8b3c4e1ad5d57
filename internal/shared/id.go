package shared

import (
	"crypto/rand"
	"math/big"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateID returns a random alphanumeric identifier of the given length,
// suitable for lobby codes, user IDs and session IDs.
func GenerateID(length int) string {
	b := make([]byte, length)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the system entropy source is broken;
			// there is no sane fallback, so fall back to a fixed but distinct
			// pad rather than panic mid-request.
			b[i] = idAlphabet[i%len(idAlphabet)]
			continue
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}
