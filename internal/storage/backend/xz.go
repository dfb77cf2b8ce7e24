package backend

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
)

// XZ compresses payloads with the xz format.
type XZ struct{}

// NewXZ creates an xz compression handler.
func NewXZ() *XZ {
	return &XZ{}
}

// Name implements Handler.
func (*XZ) Name() string {
	return "xz"
}

// Encode implements Handler.
func (*XZ) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode implements Handler.
func (*XZ) Decode(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
