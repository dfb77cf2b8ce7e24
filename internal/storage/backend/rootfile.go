package backend

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Root file constants.
const (
	rootMagic      = "RVTR"
	rootVersion    = 1
	rootHeaderSize = 48
)

// rootHeader is the header of the root slot file.
// Total size: 48 bytes
//
// Layout:
//   - Bytes 0-3:   Magic ("RVTR")
//   - Bytes 4-7:   Version (uint32 LE)
//   - Bytes 8-15:  DataLength (uint64 LE)
//   - Bytes 16-47: BLAKE3-256 of the payload
type rootHeader struct {
	Magic      [4]byte
	Version    uint32
	DataLength uint64
	Checksum   [32]byte
}

func newRootHeader(data []byte) *rootHeader {
	h := &rootHeader{
		Version:    rootVersion,
		DataLength: uint64(len(data)),
		Checksum:   blake3.Sum256(data),
	}
	copy(h.Magic[:], rootMagic)
	return h
}

func (h *rootHeader) serialize() []byte {
	buf := make([]byte, rootHeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.DataLength)
	copy(buf[16:48], h.Checksum[:])
	return buf
}

func (h *rootHeader) deserialize(buf []byte) error {
	if len(buf) < rootHeaderSize {
		return ErrCorruptData
	}
	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.DataLength = binary.LittleEndian.Uint64(buf[8:16])
	copy(h.Checksum[:], buf[16:48])

	if string(h.Magic[:]) != rootMagic {
		return ErrInvalidMagic
	}
	if h.Version != rootVersion {
		return ErrCorruptData
	}
	return nil
}

func (h *rootHeader) validate(data []byte) error {
	if uint64(len(data)) != h.DataLength {
		return ErrCorruptData
	}
	if blake3.Sum256(data) != h.Checksum {
		return ErrCorruptData
	}
	return nil
}

// writeRootFile replaces the root file atomically with tmp + fsync + rename,
// then fsyncs the directory so the rename itself is durable.
func writeRootFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	if _, err := f.Write(newRootHeader(data).serialize()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return syncDir(filepath.Dir(path))
}

// syncDir flushes directory entries of dir to stable storage.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

// readRootFile returns the root payload, or nil if the file does not exist.
func readRootFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, rootHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, ErrCorruptData
	}
	h := &rootHeader{}
	if err := h.deserialize(buf); err != nil {
		return nil, err
	}

	data := make([]byte, h.DataLength)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, ErrCorruptData
	}
	if err := h.validate(data); err != nil {
		return nil, err
	}
	return data, nil
}
