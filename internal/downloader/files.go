package downloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxFilenameLen is the longest filename produced by SafeFilename.
const MaxFilenameLen = 255

// SafeFilename keeps letters, digits and "._- " and trims the result to
// MaxFilenameLen bytes. An empty result falls back to a name derived from
// fallback.
func SafeFilename(name, fallback string) string {
	name = filepath.Base(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._- ", r) {
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), " .")
	if out == "" {
		f := fallback
		if len(f) > 16 {
			f = f[:16]
		}
		out = "file_" + SafeFilenameASCII(f)
	}
	if len(out) > MaxFilenameLen {
		ext := filepath.Ext(out)
		if len(ext) >= 16 {
			ext = ""
		}
		base := strings.TrimSuffix(out, ext)
		for len(base)+len(ext) > MaxFilenameLen {
			_, size := utf8.DecodeLastRuneInString(base)
			base = base[:len(base)-size]
		}
		out = base + ext
	}
	return out
}

// SafeFilenameASCII reduces s to [A-Za-z0-9_-].
func SafeFilenameASCII(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func tempName(filename string) string {
	return fmt.Sprintf(".%s.%s.part", filename, uuid.NewString()[:8])
}

func verifyFile(path string, want int64) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", ErrVerification, path)
	}
	if fi.Size() == 0 {
		return 0, fmt.Errorf("%w: empty file", ErrVerification)
	}
	if want > 0 && fi.Size() != want {
		return fi.Size(), fmt.Errorf("%w: size %d, expected %d", ErrVerification, fi.Size(), want)
	}
	return fi.Size(), nil
}

func removeQuiet(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
