package codes

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"path/filepath"
	"testing"
)

func sample(k int) *Sequence {
	s := New(2, 3, k)
	s.SampleRate = 16000
	s.FrameStride = 320

	for i := range s.Data {
		s.Data[i] = uint32((i * 97) % k)
	}

	s.Data[len(s.Data)-1] = uint32(k - 1)

	return s
}

func TestFromRowsRejectsOutOfRange(t *testing.T) {
	s, err := FromRows([][]int64{{0, 1}, {2, 3}}, 4)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}

	if s.At(1, 0) != 2 || s.Row(1)[1] != 3 {
		t.Fatalf("data = %v", s.Data)
	}

	for _, bad := range []int64{4, -1, 1 << 40} {
		_, err := FromRows([][]int64{{0, bad}}, 4)
		if !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("index %d: err = %v, want ErrInvalidCode", bad, err)
		}

		var ice *InvalidCodeError
		if !errors.As(err, &ice) || ice.Frame != 1 || ice.Index != bad {
			t.Fatalf("index %d: InvalidCodeError = %+v", bad, ice)
		}
	}

	if _, err := FromRows([][]int64{{0}, {0, 1}}, 4); err == nil {
		t.Fatal("expected ragged rows error")
	}
}

func TestValidate(t *testing.T) {
	s := sample(8)
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	s.Data[4] = 8
	if err := s.Validate(); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}

	short := sample(8)
	short.Data = short.Data[:2]

	if err := short.Validate(); err == nil || errors.Is(err, ErrInvalidCode) {
		t.Fatalf("layout error expected, got %v", err)
	}
}

func TestIndexWidth(t *testing.T) {
	tests := []struct{ k, want int }{
		{k: 2, want: 1},
		{k: 256, want: 1},
		{k: 257, want: 2},
		{k: 65536, want: 2},
		{k: 65537, want: 4},
	}

	for _, tt := range tests {
		if got := IndexWidth(tt.k); got != tt.want {
			t.Fatalf("IndexWidth(%d) = %d, want %d", tt.k, got, tt.want)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	for _, k := range []int{16, 65536, 1 << 20} {
		s := sample(k)

		data, err := Marshal(s)
		if err != nil {
			t.Fatalf("K=%d Marshal: %v", k, err)
		}

		if len(data) != EncodedSize(s) || len(data) != HeaderSize+6*IndexWidth(k)+4 {
			t.Fatalf("K=%d encoded %d bytes, want %d", k, len(data), EncodedSize(s))
		}

		got, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("K=%d Unmarshal: %v", k, err)
		}

		if !Equal(got, s) {
			t.Fatalf("K=%d round trip = %+v, want %+v", k, got, s)
		}
	}
}

func TestUnmarshalDetectsCorruption(t *testing.T) {
	good, err := Marshal(sample(300))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	mutate := func(f func([]byte) []byte) []byte {
		return f(bytes.Clone(good))
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "short", data: good[:10]},
		{name: "magic", data: mutate(func(b []byte) []byte { b[0] = 'Y'; return b })},
		{name: "version", data: mutate(func(b []byte) []byte { b[4] = 9; return b })},
		{name: "flipped payload bit", data: mutate(func(b []byte) []byte { b[HeaderSize] ^= 0x10; return b })},
		{name: "truncated", data: good[:len(good)-3]},
		{name: "shape overflows payload size", data: overflowHeader()},
		{name: "frames disagree with payload", data: mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[24:], binary.LittleEndian.Uint32(b[24:])+1)
			return reseal(b)
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.data); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

// overflowHeader declares 2^31 x 2^31 four-byte indices with no payload;
// batch*frames*4 wraps to zero in 64 bits.
func overflowHeader() []byte {
	b := make([]byte, HeaderSize+4)
	copy(b, Magic)
	b[4] = Version
	b[5] = 4

	le := binary.LittleEndian
	le.PutUint32(b[8:], 1<<20)
	le.PutUint32(b[12:], 16000)
	le.PutUint32(b[16:], 320)
	le.PutUint32(b[20:], 1<<31)
	le.PutUint32(b[24:], 1<<31)

	return reseal(b)
}

// reseal recomputes the trailer so only the semantic check can fail.
func reseal(b []byte) []byte {
	body := b[:len(b)-4]
	binary.LittleEndian.PutUint32(b[len(b)-4:], crc32.ChecksumIEEE(body))

	return b
}

func TestUnmarshalRejectsIndexBeyondK(t *testing.T) {
	s := sample(10)

	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	data[HeaderSize+2] = 10
	if _, err := Unmarshal(reseal(data)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}

	// width byte inconsistent with K
	data, _ = Marshal(s)
	data[5] = 2

	if _, err := Unmarshal(reseal(data)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestMarshalRejectsInvalid(t *testing.T) {
	s := sample(4)
	s.Data[0] = 4

	if _, err := Marshal(s); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utt"+Ext)
	s := sample(65536)

	if err := WriteFile(path, s); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if !Equal(got, s) {
		t.Fatal("file round trip mismatch")
	}

	var buf bytes.Buffer
	if err := Write(&buf, s); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got, err := Read(&buf); err != nil || !Equal(got, s) {
		t.Fatalf("Read = %v, %v", got, err)
	}
}

func TestSamplesAndDuration(t *testing.T) {
	s := New(1, 51, 65536)
	s.FrameStride = 320
	s.SampleRate = 16000

	if s.Samples() != 16320 {
		t.Fatalf("Samples() = %d", s.Samples())
	}

	if d := s.Duration(); d != 1.02 {
		t.Fatalf("Duration() = %v", d)
	}
}
