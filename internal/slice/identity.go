package slice

import (
	"crypto/md5"
	"encoding/hex"
)

// Identity derives the cache namespace of a download from its URL.
func Identity(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
