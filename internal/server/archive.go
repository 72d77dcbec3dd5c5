package server

import (
	"archive/tar"
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// buildArchive wraps the collection in a single-file tar archive and
// compresses it with zstd, the download format served to operators.
func buildArchive(collection []byte) ([]byte, error) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	if err := tw.WriteHeader(&tar.Header{
		Name: "collection.anki2",
		Mode: 0644,
		Size: int64(len(collection)),
	}); err != nil {
		return nil, fmt.Errorf("writing archive header: %w", err)
	}
	if _, err := tw.Write(collection); err != nil {
		return nil, fmt.Errorf("writing archive contents: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(tarBuf.Bytes(), nil), nil
}
