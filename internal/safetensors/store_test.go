package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

type rawTensor struct {
	dtype string
	shape []int64
	data  []byte
}

func buildBlob(t *testing.T, tensors map[string]rawTensor) []byte {
	t.Helper()

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}

	slices.Sort(names)

	header := map[string]any{}
	var payload []byte

	for _, name := range names {
		rt := tensors[name]
		start := len(payload)
		payload = append(payload, rt.data...)
		header[name] = map[string]any{
			"dtype":        rt.dtype,
			"shape":        rt.shape,
			"data_offsets": []int{start, len(payload)},
		}
	}

	h, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	out := binary.LittleEndian.AppendUint64(nil, uint64(len(h)))
	out = append(out, h...)

	return append(out, payload...)
}

func f32Bytes(v []float32) []byte {
	var out []byte
	for _, x := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(x))
	}

	return out
}

func u16Bytes(v []uint16) []byte {
	var out []byte
	for _, x := range v {
		out = binary.LittleEndian.AppendUint16(out, x)
	}

	return out
}

func assertNear(t *testing.T, got, want []float32, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}

	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStoreTensorByName(t *testing.T) {
	blob := buildBlob(t, map[string]rawTensor{
		"fc_prior.weight": {dtype: "F32", shape: []int64{2}, data: f32Bytes([]float32{1, 2})},
		"fc_prior.bias":   {dtype: "F32", shape: []int64{1, 3}, data: f32Bytes([]float32{3, 4, 5})},
	})

	store, err := OpenStoreFromBytes(blob, StoreOptions{})
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}
	defer store.Close()

	if got := strings.Join(store.Names(), "|"); got != "fc_prior.bias|fc_prior.weight" {
		t.Fatalf("Names() = %s", got)
	}

	shape, ok := store.Shape("fc_prior.bias")
	if !ok || !slices.Equal(shape, []int64{1, 3}) {
		t.Fatalf("Shape = %v, %v", shape, ok)
	}

	bias, err := store.TensorWithShape("fc_prior.bias", []int64{1, 3})
	if err != nil {
		t.Fatalf("TensorWithShape: %v", err)
	}

	assertNear(t, bias.Data, []float32{3, 4, 5}, 0)

	if _, err := store.TensorWithShape("fc_prior.bias", []int64{3}); err == nil {
		t.Fatal("expected shape mismatch error")
	}

	if _, err := store.Tensor("missing"); err == nil || !strings.Contains(err.Error(), "fc_prior.bias") {
		t.Fatalf("missing tensor error should list names, got %v", err)
	}
}

func TestStoreHalfPrecision(t *testing.T) {
	bf16 := make([]uint16, 0, 3)
	for _, v := range []float32{1, -2, 0.5} {
		bf16 = append(bf16, uint16(math.Float32bits(v)>>16))
	}

	blob := buildBlob(t, map[string]rawTensor{
		"half":  {dtype: "F16", shape: []int64{3}, data: u16Bytes([]uint16{0x3c00, 0xc000, 0x3800})},
		"bhalf": {dtype: "bf16", shape: []int64{3}, data: u16Bytes(bf16)},
	})

	store, err := OpenStoreFromBytes(blob, StoreOptions{})
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}

	for _, name := range []string{"half", "bhalf"} {
		tensor, err := store.Tensor(name)
		if err != nil {
			t.Fatalf("Tensor(%s): %v", name, err)
		}

		assertNear(t, tensor.Data, []float32{1, -2, 0.5}, 1e-4)
	}
}

func TestStoreKeyMapping(t *testing.T) {
	blob := buildBlob(t, map[string]rawTensor{
		"generator.quantizer.project_in.weight": {dtype: "F32", shape: []int64{1}, data: f32Bytes([]float32{1})},
		"generator.quantizer.project_in.bias":   {dtype: "F32", shape: []int64{1}, data: f32Bytes([]float32{2})},
		"fc_post_a.weight":                      {dtype: "F32", shape: []int64{1}, data: f32Bytes([]float32{3})},
	})

	only, err := OpenStoreFromBytes(blob, StoreOptions{KeyMapper: OnlyPrefix("generator.quantizer.")})
	if err != nil {
		t.Fatalf("OnlyPrefix: %v", err)
	}

	if got := strings.Join(only.Names(), "|"); got != "project_in.bias|project_in.weight" {
		t.Fatalf("OnlyPrefix names = %s", got)
	}

	if _, err := OpenStoreFromBytes(blob, StoreOptions{KeyMapper: OnlyPrefix("generator."), RemapMode: RemapStrict}); err == nil {
		t.Fatal("strict mode should reject dropped tensors")
	}

	stripped, err := OpenStoreFromBytes(blob, StoreOptions{KeyMapper: StripPrefix("generator.")})
	if err != nil {
		t.Fatalf("StripPrefix: %v", err)
	}

	if !stripped.Has("quantizer.project_in.weight") || !stripped.Has("fc_post_a.weight") {
		t.Fatalf("StripPrefix names = %v", stripped.Names())
	}

	collide := func(string) (string, bool) { return "same", true }
	if _, err := OpenStoreFromBytes(blob, StoreOptions{KeyMapper: collide, RemapMode: RemapStrict}); err == nil {
		t.Fatal("strict mode should reject collisions")
	}
}

func TestStoreRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{name: "short", blob: []byte{1, 2, 3}},
		{name: "header overflow", blob: binary.LittleEndian.AppendUint64(nil, 1<<40)},
		{name: "bad dtype", blob: buildBlob(t, map[string]rawTensor{"x": {dtype: "I64", shape: []int64{1}, data: make([]byte, 8)}})},
		{name: "truncated data", blob: buildBlob(t, map[string]rawTensor{"x": {dtype: "F32", shape: []int64{4}, data: make([]byte, 8)}})},
		{name: "negative dim", blob: buildBlob(t, map[string]rawTensor{"x": {dtype: "F32", shape: []int64{-1}, data: nil}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := OpenStoreFromBytes(tt.blob, StoreOptions{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWriteFileRoundTripWithMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codec.safetensors")

	tensors := []Tensor{
		{Name: "quantizer.codebook", Shape: []int64{2, 3}, Data: []float32{1.5, -0.25, 3, 4, -1, 0.5}},
		{Name: "fc_post_a.bias", Shape: []int64{2}, Data: []float32{7, 8}},
	}

	if err := WriteFile(path, tensors, map[string]string{"format": "pt", "sample_rate": "16000"}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := OpenStore(path, StoreOptions{})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	if store.Metadata()["sample_rate"] != "16000" {
		t.Fatalf("metadata = %v", store.Metadata())
	}

	if got := strings.Join(store.Names(), "|"); got != "fc_post_a.bias|quantizer.codebook" {
		t.Fatalf("Names() = %s", got)
	}

	cb, err := store.Tensor("quantizer.codebook")
	if err != nil {
		t.Fatalf("Tensor: %v", err)
	}

	assertNear(t, cb.Data, tensors[0].Data, 0)
}

func TestEncodeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		tensors []Tensor
	}{
		{name: "empty", tensors: nil},
		{name: "blank name", tensors: []Tensor{{Name: " ", Shape: []int64{1}, Data: []float32{1}}}},
		{name: "duplicate", tensors: []Tensor{{Name: "a", Shape: []int64{1}, Data: []float32{1}}, {Name: "a", Shape: []int64{1}, Data: []float32{2}}}},
		{name: "length mismatch", tensors: []Tensor{{Name: "a", Shape: []int64{2}, Data: []float32{1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.tensors, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFloat16ToFloat32(t *testing.T) {
	tests := []struct {
		name string
		h    uint16
		want float32
	}{
		{name: "zero", h: 0x0000, want: 0},
		{name: "one", h: 0x3c00, want: 1},
		{name: "negative one", h: 0xbc00, want: -1},
		{name: "max normal", h: 0x7bff, want: 65504},
		{name: "smallest subnormal", h: 0x0001, want: float32(math.Ldexp(1, -24))},
		{name: "infinity", h: 0x7c00, want: float32(math.Inf(1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := float16ToFloat32(tt.h); got != tt.want {
				t.Fatalf("float16ToFloat32(0x%04x) = %v, want %v", tt.h, got, tt.want)
			}
		})
	}

	if got := float16ToFloat32(0x7e00); !math.IsNaN(float64(got)) {
		t.Fatalf("NaN decoded as %v", got)
	}
}
