package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// ActivationVerifier derives and checks activation codes for license keys.
type ActivationVerifier interface {
	Code(licenseKey string) string
	Verify(licenseKey, code string) bool
}

// HMACActivation derives the code as the first 20 hex digits of
// HMAC-SHA256(secret, key), upper case.
type HMACActivation struct {
	secret []byte
}

func NewHMACActivation(secret string) *HMACActivation {
	return &HMACActivation{secret: []byte(secret)}
}

func (h *HMACActivation) Code(licenseKey string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(licenseKey))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))[:20]
}

// Verify ignores case, spaces and hyphens in the supplied code.
func (h *HMACActivation) Verify(licenseKey, code string) bool {
	normalized := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(code))
	return hmac.Equal([]byte(h.Code(licenseKey)), []byte(normalized))
}

// keyedLimiter hands out one token bucket per license key.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

const maxTrackedKeys = 10000

func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	return &keyedLimiter{limiters: make(map[string]*rate.Limiter), limit: rate.Limit(rps), burst: burst}
}

func (k *keyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= maxTrackedKeys {
			k.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = l
	}
	return l.Allow()
}
