package orders

import (
	"crypto/rand"
	"time"
)

// Order numbers look like CS-20260901-7KPT4Q: a date prefix for humans
// sorting through the day's orders, a random suffix so numbers are not
// guessable. The alphabet drops easily confused characters (0/O, 1/I/L,
// 8/B, U/V) because customers read these over the phone.
const (
	numberPrefix    = "CS"
	numberAlphabet  = "2345679ACDEFGHJKMNPQRSTWXYZ"
	numberSuffixLen = 6

	// maxNumberAttempts bounds the collision retry loop in CreateOrder.
	maxNumberAttempts = 100
)

func generateOrderNumber(now time.Time) string {
	suffix := make([]byte, numberSuffixLen)
	_, _ = rand.Read(suffix)
	for i := range suffix {
		suffix[i] = numberAlphabet[int(suffix[i])%len(numberAlphabet)]
	}
	return numberPrefix + "-" + now.Format("20060102") + "-" + string(suffix)
}
