package domain

// TorrentID is the lower-case hex info-hash of a torrent.
type TorrentID string

// Identifier is a validated request for a torrent. Magnet is kept when the
// viewer supplied one so trackers and peers it lists reach the engine.
type Identifier struct {
	InfoHash TorrentID `json:"infoHash"`
	Magnet   string    `json:"magnet,omitempty"`
}

type Statistics struct {
	Streamers int `json:"streamers"`
	Torrents  int `json:"torrents"`
}

// EngineStats aggregates swarm activity across all torrents.
type EngineStats struct {
	Peers        int
	BytesRead    int64
	StorageBytes int64
}
