// Package metainfo parses bencoded .torrent files into a typed, immutable
// descriptor and computes the torrent's derived piece geometry.
package metainfo

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackpal/bencode-go"

	"github.com/lvbealr/bittorrent/internal/bterrors"
)

// FileEntry describes one file within a (possibly multi-file) torrent.
type FileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
	MD5Sum string   `bencode:"md5sum"`
}

// Info mirrors the bencoded "info" dictionary.
type Info struct {
	PieceLength int64       `bencode:"piece length"`
	Pieces      string      `bencode:"pieces"`
	Name        string      `bencode:"name"`
	Length      int64       `bencode:"length"`
	Files       []FileEntry `bencode:"files"`
	Private     int         `bencode:"private"`
}

// raw mirrors the bencoded root dictionary, used only for decoding.
type raw struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         Info       `bencode:"info"`
}

// File is a resolved on-disk target for part of the torrent's content.
type File struct {
	Path   string // relative path, joined under the output directory by the caller
	Length int64
	Offset int64 // byte offset of this file within the concatenated content
}

// PeerIDStyle selects how a fresh 20-byte peer id is generated.
type PeerIDStyle int

const (
	// PeerIDStyleTimestamp hashes the current time, per the original Python
	// implementation's generate_peer_id.
	PeerIDStyleTimestamp PeerIDStyle = iota
	// PeerIDStyleRandom uses a client-prefixed random suffix, per the
	// teacher's GeneratePeerID.
	PeerIDStyleRandom
)

// Torrent is the immutable, parsed torrent descriptor. It is built once at
// startup and shared read-only by every other component.
type Torrent struct {
	InfoHash       [20]byte
	PeerID         [20]byte
	PieceLength    int64
	PieceHashes    [][20]byte
	TotalLength    int64
	Files          []File
	AnnounceList   [][]string
	Name           string
	NumberOfPieces int
}

// Load parses a .torrent file at path, building a Torrent descriptor.
func Load(path string, peerIDStyle PeerIDStyle) (*Torrent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("read %q: %w", path, err))
	}

	var r raw
	if err := bencode.Unmarshal(bytes.NewReader(data), &r); err != nil {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("decode: %w", err))
	}

	if r.Info.PieceLength <= 0 {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("missing or non-positive piece length"))
	}
	if len(r.Info.Pieces)%20 != 0 {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("pieces length %d is not a multiple of 20", len(r.Info.Pieces)))
	}
	if r.Info.Length == 0 && len(r.Info.Files) == 0 {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("info dict has neither length nor files"))
	}

	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("extract info dict: %w", err))
	}
	infoHash := sha1.Sum(infoBytes)

	peerID, err := generatePeerID(peerIDStyle)
	if err != nil {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("generate peer id: %w", err))
	}

	numPieces := len(r.Info.Pieces) / 20
	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(hashes[i][:], r.Info.Pieces[i*20:(i+1)*20])
	}

	files, total := buildFiles(r.Info)
	if total <= 0 {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("total length must be positive"))
	}
	if len(files) == 0 {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("files list must be non-empty"))
	}
	if int64(len(hashes))*20 != int64(numPieces)*20 || numPieces != int(math.Ceil(float64(total)/float64(r.Info.PieceLength))) {
		return nil, bterrors.New(bterrors.KindMalformedTorrent, "metainfo.Load", fmt.Errorf("piece_hashes length mismatch with computed piece count"))
	}

	announce := buildAnnounceList(r)

	return &Torrent{
		InfoHash:       infoHash,
		PeerID:         peerID,
		PieceLength:    r.Info.PieceLength,
		PieceHashes:    hashes,
		TotalLength:    total,
		Files:          files,
		AnnounceList:   announce,
		Name:           r.Info.Name,
		NumberOfPieces: numPieces,
	}, nil
}

// PieceSize returns the size of piece i, accounting for the final,
// possibly-shorter piece.
func (t *Torrent) PieceSize(i int) int64 {
	if i == t.NumberOfPieces-1 {
		size := t.TotalLength - int64(t.NumberOfPieces-1)*t.PieceLength
		if size > 0 {
			return size
		}
	}
	return t.PieceLength
}

func buildFiles(info Info) ([]File, int64) {
	if len(info.Files) == 0 {
		return []File{{Path: info.Name, Length: info.Length, Offset: 0}}, info.Length
	}

	var files []File
	var offset int64
	for _, fe := range info.Files {
		parts := append([]string{info.Name}, fe.Path...)
		files = append(files, File{Path: filepath.Join(parts...), Length: fe.Length, Offset: offset})
		offset += fe.Length
	}
	return files, offset
}

func buildAnnounceList(r raw) [][]string {
	if len(r.AnnounceList) > 0 {
		return r.AnnounceList
	}
	if r.Announce != "" {
		return [][]string{{r.Announce}}
	}
	return nil
}

// extractInfoBytes locates the raw bencoded bytes of the "info" dictionary
// within the full file so the info-hash can be computed byte-exact, without
// re-encoding (and risking key-order drift).
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("no \"4:info\" prefix found")
	}
	start := idx + len("4:info")

	depth := 0
	for i := start; i < len(data); i++ {
		b := data[i]
		switch {
		case b == 'd' || b == 'l':
			depth++
		case b == 'e':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		case b == 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}
			if j >= len(data) {
				return nil, fmt.Errorf("unterminated integer at %d", i)
			}
			i = j
		case b >= '0' && b <= '9':
			j := i
			for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
			}
			if j < len(data) && data[j] == ':' {
				length, err := strconv.Atoi(string(data[i:j]))
				if err != nil {
					return nil, fmt.Errorf("invalid string length at %d-%d", i, j)
				}
				j++
				i = j + length - 1
			}
		}
	}
	return nil, fmt.Errorf("unterminated info dict")
}

func generatePeerID(style PeerIDStyle) ([20]byte, error) {
	var out [20]byte

	switch style {
	case PeerIDStyleRandom:
		const prefix = "-GT0001-"
		const chars = "0123456789abcdefghijklmnopqrstuvxyz"
		randomBytes := make([]byte, 20-len(prefix))
		if _, err := rand.Read(randomBytes); err != nil {
			return out, err
		}
		for i, b := range randomBytes {
			randomBytes[i] = chars[int(b)%len(chars)]
		}
		copy(out[:], prefix+string(randomBytes))
		return out, nil

	default: // PeerIDStyleTimestamp
		seed := time.Now().String()
		sum := sha1.Sum([]byte(seed))
		copy(out[:], sum[:])
		return out, nil
	}
}
