// Package capture records raw telemetry frames to zstd-compressed files
// and reads them back for replay and charting.
//
// A capture is a zstd stream holding one header line
//
//	XRCAP1 {"session":"...","started_at":"...","frame_length":186}\n
//
// followed by records of an 8-byte little-endian unix-nanosecond
// timestamp, a 2-byte little-endian length and the raw frame bytes.
// Consecutive identical frames are stored once.
package capture

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/xrdesk/xrbridge/internal/telemetry"
)

// Magic starts every capture stream.
const Magic = "XRCAP1"

// Extension is the file suffix used by Create.
const Extension = ".xrcap.zst"

// MaxRecordSize bounds a single raw frame.
const MaxRecordSize = 4096

var (
	ErrBadMagic      = errors.New("capture: not a capture stream")
	ErrRecordTooLong = errors.New("capture: record exceeds maximum size")
)

// Header describes a capture.
type Header struct {
	Session     string    `json:"session"`
	StartedAt   time.Time `json:"started_at"`
	FrameLength int       `json:"frame_length"`
}

// Record is one captured frame.
type Record struct {
	At  time.Time
	Raw []byte
}

// Writer appends records to a capture. It is safe for concurrent use and
// satisfies the engine's frame sink.
type Writer struct {
	mu     sync.Mutex
	header Header
	zw     *zstd.Encoder
	file   io.Closer
	last   []byte
	frames uint64
	dupes  uint64
	closed bool
}

// NewWriter starts a capture on w.
func NewWriter(w io.Writer, startedAt time.Time) (*Writer, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("capture: zstd writer: %w", err)
	}
	h := Header{Session: uuid.NewString(), StartedAt: startedAt.UTC(), FrameLength: telemetry.Length}
	line, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(zw, "%s %s\n", Magic, line); err != nil {
		zw.Close()
		return nil, fmt.Errorf("capture: write header: %w", err)
	}
	return &Writer{header: h, zw: zw}, nil
}

// Create starts a capture in a new file under dir and returns its path.
func Create(dir string, startedAt time.Time) (*Writer, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("capture: %w", err)
	}
	name := "capture-" + startedAt.UTC().Format("20060102T150405Z") + Extension
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("capture: %w", err)
	}
	w, err := NewWriter(f, startedAt)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, "", err
	}
	w.file = f
	return w, path, nil
}

// Header returns the capture header.
func (w *Writer) Header() Header { return w.header }

// WriteFrame appends raw unless it repeats the previous frame.
func (w *Writer) WriteFrame(at time.Time, raw []byte) error {
	if len(raw) > MaxRecordSize {
		return ErrRecordTooLong
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if w.last != nil && bytes.Equal(w.last, raw) {
		w.dupes++
		return nil
	}

	var hdr [10]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(at.UnixNano()))
	binary.LittleEndian.PutUint16(hdr[8:], uint16(len(raw)))
	if _, err := w.zw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.zw.Write(raw); err != nil {
		return err
	}
	w.last = append(w.last[:0], raw...)
	w.frames++
	return nil
}

// Stats returns how many frames were written and how many repeats were
// skipped.
func (w *Writer) Stats() (frames, duplicates uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.dupes
}

// Close flushes the stream and closes the file opened by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.zw.Close()
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader reads records from a capture.
type Reader struct {
	header Header
	zr     *zstd.Decoder
	br     *bufio.Reader
	file   io.Closer
}

// NewReader reads the capture header from r.
func NewReader(r io.Reader) (*Reader, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("capture: zstd reader: %w", err)
	}
	br := bufio.NewReader(zr)
	line, err := br.ReadBytes('\n')
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	rest, ok := bytes.CutPrefix(line, []byte(Magic+" "))
	if !ok {
		zr.Close()
		return nil, ErrBadMagic
	}
	var h Header
	if err := json.Unmarshal(rest, &h); err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: header: %v", ErrBadMagic, err)
	}
	return &Reader{header: h, zr: zr, br: br}, nil
}

// Open opens the capture file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.file = f
	return r, nil
}

func (r *Reader) Header() Header { return r.header }

// Next returns the next record, or io.EOF after the last one. A stream cut
// short inside a record yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (Record, error) {
	var hdr [10]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		return Record{}, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[8:]))
	if n > MaxRecordSize {
		return Record{}, ErrRecordTooLong
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r.br, raw); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}
	at := time.Unix(0, int64(binary.LittleEndian.Uint64(hdr[:8]))).UTC()
	return Record{At: at, Raw: raw}, nil
}

// Close releases the decoder and the file opened by Open.
func (r *Reader) Close() error {
	r.zr.Close()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
