package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeFileID trims surrounding whitespace.
func NormalizeFileID(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeFilename trims whitespace and folds case so "Movie.MKV" and
// "movie.mkv" sent twice count as the same file.
func NormalizeFilename(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized
// remote file id and filename. History rows are keyed by it.
func Fingerprint(fileID, filename string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeFileID(fileID)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeFilename(filename)))
	return hex.EncodeToString(h.Sum(nil))
}
