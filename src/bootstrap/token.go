package bootstrap

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TokenWindow is how long a bootstrap token stays valid after minting.
const TokenWindow = 60 * time.Second

// GenerateToken mints a time-limited tenant bootstrap token of the form
// "{timestampMs}:{hexDigest}" bound to the tenant name and the process
// pepper. Operators generate it out of band and hand it to whoever creates
// the tenant.
func GenerateToken(name, pepper string, now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	return ts + ":" + tokenDigest(name, pepper, ts)
}

func tokenDigest(name, pepper, ts string) string {
	sum := sha256.Sum256([]byte(name + pepper + ts))
	return hex.EncodeToString(sum[:])
}

// verifyToken checks shape, time window and digest. Shape problems are
// Malformed; a wrong or expired token is Unauthorized. The digest compare
// is constant time after a length check.
func verifyToken(name, pepper, token string, now time.Time) error {
	tsStr, digestHex, ok := strings.Cut(token, ":")
	if !ok {
		return fmt.Errorf("%w: bootstrap token missing separator", ErrMalformed)
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil || ts < 0 {
		return fmt.Errorf("%w: bootstrap token timestamp invalid", ErrMalformed)
	}

	elapsed := now.UnixMilli() - ts
	if elapsed < 0 || elapsed > TokenWindow.Milliseconds() {
		return fmt.Errorf("%w: bootstrap token outside validity window", ErrUnauthorized)
	}

	want := tokenDigest(name, pepper, tsStr)
	if len(want) != len(digestHex) {
		return fmt.Errorf("%w: bootstrap token digest mismatch", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(digestHex)) != 1 {
		return fmt.Errorf("%w: bootstrap token digest mismatch", ErrUnauthorized)
	}
	return nil
}
