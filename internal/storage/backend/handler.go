package backend

import "fmt"

// Handler transforms payloads on their way to and from the durable store.
type Handler interface {
	// Name identifies the handler in error messages.
	Name() string
	// Encode transforms a payload before it is stored.
	Encode(data []byte) ([]byte, error)
	// Decode reverses Encode.
	Decode(data []byte) ([]byte, error)
}

// WithHandlers wraps a Storage so every page and root payload passes through
// the handlers. Encoding applies them in order, decoding in reverse.
func WithHandlers(s Storage, handlers ...Handler) Storage {
	if len(handlers) == 0 {
		return s
	}
	return &pipeline{Storage: s, handlers: handlers}
}

type pipeline struct {
	Storage
	handlers []Handler
}

func (p *pipeline) Unwrap() Storage {
	return p.Storage
}

func (p *pipeline) OpenReader() (Reader, error) {
	r, err := p.Storage.OpenReader()
	if err != nil {
		return nil, err
	}
	return &pipelineReader{Reader: r, p: p}, nil
}

func (p *pipeline) OpenWriter() (Writer, error) {
	w, err := p.Storage.OpenWriter()
	if err != nil {
		return nil, err
	}
	return &pipelineWriter{pipelineReader: pipelineReader{Reader: w, p: p}, w: w}, nil
}

func (p *pipeline) encode(data []byte) ([]byte, error) {
	var err error
	for _, h := range p.handlers {
		if data, err = h.Encode(data); err != nil {
			return nil, fmt.Errorf("%s encode: %w", h.Name(), err)
		}
	}
	return data, nil
}

func (p *pipeline) decode(data []byte) ([]byte, error) {
	var err error
	for i := len(p.handlers) - 1; i >= 0; i-- {
		h := p.handlers[i]
		if data, err = h.Decode(data); err != nil {
			return nil, fmt.Errorf("%s decode: %w", h.Name(), err)
		}
	}
	return data, nil
}

type pipelineReader struct {
	Reader
	p *pipeline
}

func (r *pipelineReader) ReadPage(key int64) ([]byte, error) {
	data, err := r.Reader.ReadPage(key)
	if err != nil {
		return nil, err
	}
	return r.p.decode(data)
}

func (r *pipelineReader) ReadRoot() ([]byte, error) {
	data, err := r.Reader.ReadRoot()
	if err != nil || data == nil {
		return data, err
	}
	return r.p.decode(data)
}

type pipelineWriter struct {
	pipelineReader
	w Writer
}

func (w *pipelineWriter) WritePage(data []byte) (int64, error) {
	enc, err := w.p.encode(data)
	if err != nil {
		return 0, err
	}
	return w.w.WritePage(enc)
}

func (w *pipelineWriter) WriteRoot(data []byte) error {
	enc, err := w.p.encode(data)
	if err != nil {
		return err
	}
	return w.w.WriteRoot(enc)
}
