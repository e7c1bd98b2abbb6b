package usecase

import (
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/PalomitasTime/cinema/internal/domain"
)

const magnetPrefix = "magnet:?xt=urn:btih:"

// ParseIdentifier validates a magnet URI or a bare info-hash (40 hex or 32
// base32 characters). It never contacts the engine.
func ParseIdentifier(raw string) (domain.Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Identifier{}, domain.ErrInvalidIdentifier
	}

	if strings.HasPrefix(strings.ToLower(raw), "magnet:") {
		hash, err := parseMagnetHash(raw)
		if err != nil {
			return domain.Identifier{}, err
		}
		return domain.Identifier{InfoHash: hash, Magnet: raw}, nil
	}

	if len(raw) != 40 && len(raw) != 32 {
		return domain.Identifier{}, domain.ErrInvalidIdentifier
	}
	hash, err := parseMagnetHash(magnetPrefix + strings.ToUpper(raw))
	if err != nil {
		return domain.Identifier{}, err
	}
	return domain.Identifier{InfoHash: hash}, nil
}

func parseMagnetHash(uri string) (domain.TorrentID, error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidIdentifier, err)
	}
	if m.InfoHash == (metainfo.Hash{}) {
		return "", domain.ErrInvalidIdentifier
	}
	return domain.TorrentID(m.InfoHash.HexString()), nil
}

// NormalizeTorrentID lower-cases a hex info-hash taken from a URL path.
func NormalizeTorrentID(raw string) domain.TorrentID {
	return domain.TorrentID(strings.ToLower(strings.TrimSpace(raw)))
}
