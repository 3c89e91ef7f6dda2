package common

import (
	"fmt"
	"math/rand"
	"time"
)

const refCharacters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateTransactionRef produces a human-readable payment reference like
// MP-20260828-K3X9A2Q. The random suffix keeps concurrent requests within
// the same second from colliding.
func GenerateTransactionRef() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	suffix := make([]byte, 7)
	for i := range suffix {
		suffix[i] = refCharacters[r.Intn(len(refCharacters))]
	}
	return fmt.Sprintf("MP-%s-%s", time.Now().Format("20060102"), string(suffix))
}
