// pkg/capture/writer.go

package capture

import (
	"bufio"
	"encoding/binary"
	"os"
	"time"

	"SpeadFlow/pkg/compress"
	"SpeadFlow/pkg/recv"
	"SpeadFlow/pkg/utils"

	"github.com/pkg/errors"
)

var logger = utils.GetLogger("speadflow")

// Capture file layout, all integers big endian:
//
//	magic "SPCF", format version byte
//	codec name (u8 length + bytes)
//	session id (u8 length + bytes)
//	u32 heaps per chunk, u32 chunk payload size, u64 created (unix seconds)
//	records: i64 chunk id, present bytes, u32 stored size, u32 raw size, data
//
// Records are compressed with the named codec and, when an encryptor is
// configured, encrypted after compression.
const (
	fileMagic     = "SPCF"
	formatVersion = 1
)

// Writer appends completed chunks to a capture file.
type Writer struct {
	f    *os.File
	w    *bufio.Writer
	comp compress.Compressor
	enc  Encryptor

	heapsPerChunk int
	chunkSize     int
	cbuf          []byte

	// Chunks and Bytes count what has been appended so far.
	Chunks int64
	Bytes  int64
}

// NewWriter creates a capture file. enc may be nil for plaintext captures.
func NewWriter(path, codec, sessionID string, heapsPerChunk, chunkSize int, enc Encryptor) (*Writer, error) {
	comp, err := compress.NewCompressor(codec)
	if err != nil {
		return nil, err
	}
	if len(codec) == 0 {
		codec = comp.Name()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		f:             f,
		w:             bufio.NewWriterSize(f, 1<<20),
		comp:          comp,
		enc:           enc,
		heapsPerChunk: heapsPerChunk,
		chunkSize:     chunkSize,
		cbuf:          make([]byte, comp.CompressBound(chunkSize)),
	}
	if err = w.writeHeader(codec, sessionID); err != nil {
		_ = f.Close()
		return nil, err
	}
	logger.Debugf("created capture file %s (%s, %d heaps per chunk)", path, comp.Name(), heapsPerChunk)
	return w, nil
}

func (w *Writer) writeHeader(codec, sessionID string) error {
	if _, err := w.w.WriteString(fileMagic); err != nil {
		return err
	}
	if err := w.w.WriteByte(formatVersion); err != nil {
		return err
	}
	for _, s := range []string{codec, sessionID} {
		if err := w.w.WriteByte(byte(len(s))); err != nil {
			return err
		}
		if _, err := w.w.WriteString(s); err != nil {
			return err
		}
	}
	var fixed [16]byte
	binary.BigEndian.PutUint32(fixed[0:4], uint32(w.heapsPerChunk))
	binary.BigEndian.PutUint32(fixed[4:8], uint32(w.chunkSize))
	binary.BigEndian.PutUint64(fixed[8:16], uint64(time.Now().Unix()))
	_, err := w.w.Write(fixed[:])
	return err
}

// Append writes one completed chunk.
func (w *Writer) Append(c *recv.Chunk) error {
	if len(c.Present) != w.heapsPerChunk || len(c.Data) != w.chunkSize {
		return errors.Errorf("chunk %d does not match the capture geometry", c.ID)
	}
	n, err := w.comp.Compress(w.cbuf, c.Data)
	if err != nil {
		return errors.Wrapf(err, "compress chunk %d", c.ID)
	}
	data := w.cbuf[:n]
	if w.enc != nil {
		if data, err = w.enc.Encrypt(data); err != nil {
			return errors.Wrapf(err, "encrypt chunk %d", c.ID)
		}
	}
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(c.ID))
	if _, err = w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err = w.w.Write(c.Present); err != nil {
		return err
	}
	var sizes [8]byte
	binary.BigEndian.PutUint32(sizes[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(sizes[4:8], uint32(len(c.Data)))
	if _, err = w.w.Write(sizes[:]); err != nil {
		return err
	}
	if _, err = w.w.Write(data); err != nil {
		return err
	}
	w.Chunks++
	w.Bytes += int64(len(data))
	return nil
}

// Close flushes and closes the capture file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}
