package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// DeriveDocID computes a stable id from the normalized source path and the
// content length. Re-uploads of an identical file land on the same id, which
// makes auto-id registration idempotent.
func DeriveDocID(sourcePath string, sizeBytes int64) string {
	normalized := filepath.ToSlash(filepath.Clean(strings.TrimSpace(sourcePath)))
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d", normalized, sizeBytes))
	return "doc-" + hex.EncodeToString(sum[:])[:16]
}
