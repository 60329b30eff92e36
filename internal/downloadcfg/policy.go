package downloadcfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CollisionPolicy defines how to handle an existing file at the final path.
// Values: "error" | "overwrite" | "rename".
type CollisionPolicy string

const (
	CollisionError     CollisionPolicy = "error"
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
)

// ErrTargetExists is returned by Resolve under CollisionError.
var ErrTargetExists = errors.New("target file already exists")

// maxRenameAttempts bounds the "name (n).ext" search.
const maxRenameAttempts = 1000

// ParseCollisionPolicy converts a string to a CollisionPolicy with default.
func ParseCollisionPolicy(s string) CollisionPolicy {
	switch CollisionPolicy(s) {
	case CollisionOverwrite:
		return CollisionOverwrite
	case CollisionRename:
		return CollisionRename
	case CollisionError:
		fallthrough
	default:
		return CollisionError
	}
}

// Resolve picks the path a finished download should be renamed to.
func Resolve(dir, name string, p CollisionPolicy) (string, error) {
	target := filepath.Join(dir, name)
	if !exists(target) {
		return target, nil
	}
	switch p {
	case CollisionOverwrite:
		return target, nil
	case CollisionRename:
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		for i := 1; i <= maxRenameAttempts; i++ {
			candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
			if !exists(candidate) {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("%w: no free name for %s", ErrTargetExists, name)
	default:
		return "", fmt.Errorf("%w: %s", ErrTargetExists, target)
	}
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
