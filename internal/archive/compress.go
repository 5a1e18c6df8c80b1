// ABOUTME: zstd copies of transcripts kept when sessions are archived
// ABOUTME: One shared encoder/decoder pair, used through EncodeAll/DecodeAll only

package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/2389/murmur-gateway/internal/store"
)

const archiveExt = ".jsonl.zst"

// EncodeAll and DecodeAll are safe for concurrent use on a shared instance.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// ArchivePath returns where the compressed copy of id lives under dir.
func ArchivePath(dir, id string) string {
	return filepath.Join(dir, id+archiveExt)
}

func compressTranscript(src, dir, id string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading transcript for archive: %w", err)
	}
	dst := ArchivePath(dir, id)
	if err := store.WriteFileAtomic(dst, encoder.EncodeAll(data, nil)); err != nil {
		return "", fmt.Errorf("writing archive copy: %w", err)
	}
	return dst, nil
}

// LoadArchived returns the decompressed transcript bytes archived for id.
func LoadArchived(dir, id string) ([]byte, error) {
	if !store.ValidSessionID(id) {
		return nil, store.ErrInvalidSessionID
	}
	data, err := os.ReadFile(ArchivePath(dir, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading archive copy: %w", err)
	}
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing archive copy: %w", err)
	}
	return out, nil
}
