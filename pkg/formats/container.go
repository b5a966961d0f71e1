package formats

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
)

// Magic opens every geometry container.
const Magic = "LMSH"

// Version is the container version written by WriteContainer.
var Version = ContainerVersion{Major: 1, Minor: 0}

// lz4FrameMagic is the little-endian LZ4 frame magic number.
var lz4FrameMagic = []byte{0x04, 0x22, 0x4d, 0x18}

// ContainerVersion is the version stored after the magic.
type ContainerVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v ContainerVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Header describes an opened container.
type Header struct {
	Version    ContainerVersion
	Compressed bool
}

// WriteContainer writes the magic, the version and the chunks emitted by body.
// With compress set the whole container is wrapped in an LZ4 frame.
func WriteContainer(w io.Writer, compress bool, body func(cw *ChunkWriter) error) error {
	var zw *lz4.Writer
	if compress {
		zw = lz4.NewWriter(w)
		w = zw
	}

	bw := bufio.NewWriter(w)
	cw := NewChunkWriter(bw)
	cw.write([]byte(Magic))
	cw.write([]byte{Version.Major, Version.Minor})
	if err := body(cw); err != nil {
		return err
	}
	if err := cw.Err(); err != nil {
		return fmt.Errorf("writing container: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing container: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("closing lz4 frame: %w", err)
		}
	}
	return nil
}

// OpenContainer checks the container header and returns a reader positioned
// at the first chunk. LZ4 compressed containers are detected from their frame
// magic.
func OpenContainer(r io.Reader) (*ChunkReader, Header, error) {
	var hdr Header
	br := bufio.NewReader(r)

	peek, err := br.Peek(4)
	if err != nil {
		return nil, hdr, ErrTruncated
	}
	var src io.Reader = br
	if bytes.Equal(peek, lz4FrameMagic) {
		src = bufio.NewReader(lz4.NewReader(br))
		hdr.Compressed = true
	}

	var head [6]byte
	if _, err := io.ReadFull(src, head[:]); err != nil {
		return nil, hdr, ErrTruncated
	}
	if string(head[:4]) != Magic {
		return nil, hdr, ErrInvalidMagic
	}
	hdr.Version = ContainerVersion{Major: head[4], Minor: head[5]}
	if hdr.Version.Major != Version.Major {
		return nil, hdr, fmt.Errorf("%w: %s", ErrUnsupportedVersion, hdr.Version)
	}
	return NewChunkReader(src), hdr, nil
}

// WriteContainerFile writes a container to path.
func WriteContainerFile(path string, compress bool, body func(cw *ChunkWriter) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteContainer(f, compress, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadContainerFile opens the container at path and hands its chunks to body.
func ReadContainerFile(path string, body func(cr *ChunkReader, hdr Header) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	cr, hdr, err := OpenContainer(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return body(cr, hdr)
}
