package archive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// KeyFunc names the object a batch is written to.
type KeyFunc func(ctx context.Context, now time.Time) (string, error)

// DefaultKeyFunc partitions objects by UTC hour and adds a random suffix so
// concurrent writers never collide: <prefix>/YYYY/MM/DD/HH/<unixnano>-<hex><ext>.
func DefaultKeyFunc(prefix, ext string) KeyFunc {
	prefix = strings.Trim(prefix, "/")
	if ext == "" || ext[0] != '.' {
		ext = ".bin"
	}
	return func(_ context.Context, now time.Time) (string, error) {
		now = now.UTC()
		suffix, err := randomHex(8)
		if err != nil {
			return "", err
		}
		key := fmt.Sprintf("%04d/%02d/%02d/%02d/%d-%s%s",
			now.Year(), int(now.Month()), now.Day(), now.Hour(), now.UnixNano(), suffix, ext,
		)
		if prefix != "" {
			key = prefix + "/" + key
		}
		return key, nil
	}
}

func randomHex(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
