package bundle

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrMissing is returned when the configured bundle file does not exist.
var ErrMissing = errors.New("bundle file does not exist")

// Bundle is one freshly loaded copy of the distributable archive.
type Bundle struct {
	Payload    []byte
	OriginPath string
	Digest     string
	LoadedAt   time.Time
}

// Size returns the payload length in bytes.
func (b Bundle) Size() int { return len(b.Payload) }

// Source loads the current bundle. Implementations read from storage on
// every call and never cache, so a replaced file is picked up by the next
// load.
type Source interface {
	Load(ctx context.Context) (Bundle, error)
	Describe() string
}

// Options carries credentials for remote sources.
type Options struct {
	SFTPPassword       string
	SFTPPrivateKeyPath string
}

// NewSource picks a Source for location: sftp://user@host[:port]/path URLs
// use SFTP, anything else is a local path.
func NewSource(location string, opts Options) (Source, error) {
	if strings.HasPrefix(location, "sftp://") {
		return NewSFTPSource(location, opts)
	}
	return NewFileSource(location), nil
}

// Digest returns the hex BLAKE3-256 digest of payload.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ShortDigest returns the first 12 hex characters of a digest.
func ShortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func newBundle(payload []byte, origin string) Bundle {
	return Bundle{
		Payload:    payload,
		OriginPath: origin,
		Digest:     Digest(payload),
		LoadedAt:   time.Now().UTC(),
	}
}
