package codes

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
)

// Container layout, little-endian:
//
//	0  magic "XCDC"
//	4  version u8
//	5  index width u8 (1, 2 or 4 bytes)
//	6  reserved u16
//	8  K, sample rate, frame stride, batch, frames (u32 each)
//	28 indices, row-major
//	   CRC-32 (IEEE) of everything before it
const (
	Magic      = "XCDC"
	Version    = 1
	HeaderSize = 28
	trailer    = 4

	// Ext is the conventional file extension.
	Ext = ".xcd"
)

// IndexWidth is the number of bytes used per index for a codebook of size k.
func IndexWidth(k int) int {
	switch {
	case k <= 1<<8:
		return 1
	case k <= 1<<16:
		return 2
	default:
		return 4
	}
}

// EncodedSize is the container length for s.
func EncodedSize(s *Sequence) int {
	return HeaderSize + len(s.Data)*IndexWidth(s.K) + trailer
}

// Marshal validates s and encodes it into the container format.
func Marshal(s *Sequence) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	for name, v := range map[string]int{
		"codebook size": s.K, "sample rate": s.SampleRate, "frame stride": s.FrameStride,
		"batch": s.Batch, "frames": s.Frames,
	} {
		if v < 0 || uint64(v) > math.MaxUint32 {
			return nil, fmt.Errorf("codes: %s %d does not fit the container", name, v)
		}
	}

	w := IndexWidth(s.K)
	buf := make([]byte, 0, EncodedSize(s))

	buf = append(buf, Magic...)
	buf = append(buf, Version, byte(w), 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.K))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.SampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.FrameStride))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Batch))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Frames))

	for _, idx := range s.Data {
		switch w {
		case 1:
			buf = append(buf, byte(idx))
		case 2:
			buf = binary.LittleEndian.AppendUint16(buf, uint16(idx))
		default:
			buf = binary.LittleEndian.AppendUint32(buf, idx)
		}
	}

	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf)), nil
}

// Unmarshal decodes a container. Structural damage yields ErrMalformed; an
// intact container holding an index >= K yields an InvalidCodeError.
func Unmarshal(data []byte) (*Sequence, error) {
	if len(data) < HeaderSize+trailer {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}

	if string(data[:4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformed, data[:4])
	}

	if data[4] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, data[4])
	}

	body := data[:len(data)-trailer]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(data[len(data)-trailer:]); got != want {
		return nil, fmt.Errorf("%w: checksum %08x, want %08x", ErrMalformed, got, want)
	}

	w := int(data[5])
	le := binary.LittleEndian
	s := &Sequence{
		K:           int(le.Uint32(data[8:])),
		SampleRate:  int(le.Uint32(data[12:])),
		FrameStride: int(le.Uint32(data[16:])),
		Batch:       int(le.Uint32(data[20:])),
		Frames:      int(le.Uint32(data[24:])),
	}

	if s.K == 0 || w != IndexWidth(s.K) {
		return nil, fmt.Errorf("%w: index width %d does not match codebook size %d", ErrMalformed, w, s.K)
	}

	size := uint64(len(body) - HeaderSize)
	if !payloadMatches(size, uint64(w), uint64(s.Batch), uint64(s.Frames)) {
		return nil, fmt.Errorf("%w: payload is %d bytes, header declares %dx%d indices of %d bytes",
			ErrMalformed, size, s.Batch, s.Frames, w)
	}

	n := size / uint64(w)

	payload := body[HeaderSize:]
	s.Data = make([]uint32, n)

	for i := range s.Data {
		switch w {
		case 1:
			s.Data[i] = uint32(payload[i])
		case 2:
			s.Data[i] = uint32(le.Uint16(payload[i*2:]))
		default:
			s.Data[i] = le.Uint32(payload[i*4:])
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// payloadMatches reports whether size bytes hold exactly batch*frames indices
// of width w. It divides instead of multiplying so hostile headers cannot
// overflow the comparison.
func payloadMatches(size, w, batch, frames uint64) bool {
	if size%w != 0 {
		return false
	}

	n := size / w
	if batch == 0 || frames == 0 {
		return n == 0
	}

	return n%batch == 0 && n/batch == frames
}

// Write encodes s to w.
func Write(w io.Writer, s *Sequence) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("codes: write: %w", err)
	}

	return nil
}

// Read decodes a whole container from r.
func Read(r io.Reader) (*Sequence, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("codes: read: %w", err)
	}

	return Unmarshal(buf.Bytes())
}

// ReadFile decodes the container stored at path.
func ReadFile(path string) (*Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("codes: read %s: %w", path, err)
	}

	return Unmarshal(data)
}

// WriteFile encodes s into path.
func WriteFile(path string, s *Sequence) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("codes: write %s: %w", path, err)
	}

	return nil
}
