package discovery

import (
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
)

// Fingerprint hashes the canonical names and entry symbols of the list in
// order. Two discoveries over the same binary produce the same fingerprint.
func Fingerprint(l *List) string {
	h := xxh3.New()
	for _, c := range l.cases {
		_, _ = io.WriteString(h, Format(c))
		_, _ = io.WriteString(h, "\x00")
		_, _ = io.WriteString(h, c.Entry.Symbol)
		_, _ = io.WriteString(h, "\n")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
