package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Number builds a human-readable document number: fixed prefix, date, four
// random digits (e.g. TXN202608314217). Collisions are accepted as unlikely;
// the store's unique constraint is the actual guarantee.
func Number(prefix string, at time.Time) string {
	digits := make([]byte, 4)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			digits[i] = byte('0' + time.Now().UnixNano()%10)
			continue
		}
		digits[i] = byte('0' + n.Int64())
	}
	return fmt.Sprintf("%s%s%s", prefix, at.Format("20060102"), string(digits))
}
