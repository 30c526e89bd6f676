package snapshot

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec applied to uploaded snapshots.
type Compression string

const (
	// CompressionNone uploads the raw database file.
	CompressionNone Compression = "none"

	// CompressionLZ4 trades ratio for speed using the LZ4 frame format.
	CompressionLZ4 Compression = "lz4"

	// CompressionZstd is the default codec.
	CompressionZstd Compression = "zstd"
)

// Frame magics of the supported codecs. Restores detect the codec from
// these, so a snapshot written under one configuration restores under any.
var (
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
)

func (c Compression) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("snapshot: unknown compression %q", c)
	}
}

// detectReader sniffs the codec from the stream's leading bytes and returns
// a decompressing reader. Streams without a known magic pass through raw.
func detectReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, err
	}

	switch {
	case bytes.Equal(head, magicZstd):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}

		return dec.IOReadCloser(), nil
	case bytes.Equal(head, magicLZ4):
		return io.NopCloser(lz4.NewReader(br)), nil
	default:
		return io.NopCloser(br), nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
