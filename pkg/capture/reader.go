// pkg/capture/reader.go

package capture

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"time"

	"SpeadFlow/pkg/compress"

	"github.com/pkg/errors"
)

// Record is one chunk read back from a capture file.
type Record struct {
	ChunkID int64
	Present []byte
	Data    []byte
}

// Header describes a capture file.
type Header struct {
	Codec         string
	SessionID     string
	HeapsPerChunk int
	ChunkSize     int
	Created       time.Time
}

// Reader iterates over the records of a capture file.
type Reader struct {
	f    *os.File
	r    *bufio.Reader
	comp compress.Compressor
	enc  Encryptor

	Header Header
}

// NewReader opens a capture file. enc must match the encryptor the file was
// written with, or be nil for plaintext captures.
func NewReader(path string, enc Encryptor) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{f: f, r: bufio.NewReaderSize(f, 1<<20), enc: enc}
	if err = r.readHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if r.comp, err = compress.NewCompressor(r.Header.Codec); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	magic := make([]byte, len(fileMagic)+1)
	if _, err := io.ReadFull(r.r, magic); err != nil {
		return errors.Wrap(err, "read capture header")
	}
	if string(magic[:len(fileMagic)]) != fileMagic {
		return errors.New("not a capture file")
	}
	if magic[len(fileMagic)] != formatVersion {
		return errors.Errorf("unsupported capture version %d", magic[len(fileMagic)])
	}
	strs := make([]string, 2)
	for i := range strs {
		n, err := r.r.ReadByte()
		if err != nil {
			return err
		}
		b := make([]byte, n)
		if _, err = io.ReadFull(r.r, b); err != nil {
			return err
		}
		strs[i] = string(b)
	}
	var fixed [16]byte
	if _, err := io.ReadFull(r.r, fixed[:]); err != nil {
		return err
	}
	r.Header = Header{
		Codec:         strs[0],
		SessionID:     strs[1],
		HeapsPerChunk: int(binary.BigEndian.Uint32(fixed[0:4])),
		ChunkSize:     int(binary.BigEndian.Uint32(fixed[4:8])),
		Created:       time.Unix(int64(binary.BigEndian.Uint64(fixed[8:16])), 0),
	}
	return nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (*Record, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	rec := &Record{
		ChunkID: int64(binary.BigEndian.Uint64(hdr[:])),
		Present: make([]byte, r.Header.HeapsPerChunk),
	}
	if _, err := io.ReadFull(r.r, rec.Present); err != nil {
		return nil, errors.Wrap(err, "truncated record")
	}
	var sizes [8]byte
	if _, err := io.ReadFull(r.r, sizes[:]); err != nil {
		return nil, errors.Wrap(err, "truncated record")
	}
	stored := int(binary.BigEndian.Uint32(sizes[0:4]))
	raw := int(binary.BigEndian.Uint32(sizes[4:8]))
	data := make([]byte, stored)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, errors.Wrap(err, "truncated record")
	}
	if r.enc != nil {
		var err error
		if data, err = r.enc.Decrypt(data); err != nil {
			return nil, errors.Wrapf(err, "decrypt chunk %d", rec.ChunkID)
		}
	}
	rec.Data = make([]byte, raw)
	n, err := r.comp.Decompress(rec.Data, data)
	if err != nil {
		return nil, errors.Wrapf(err, "decompress chunk %d", rec.ChunkID)
	}
	rec.Data = rec.Data[:n]
	return rec, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}
