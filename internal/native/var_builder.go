package native

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/example/go-xcodec/internal/runtime/tensor"
	"github.com/example/go-xcodec/internal/safetensors"
)

// VarBuilder resolves dotted checkpoint names relative to a prefix, so a
// module loader can ask for "weight" under "fc_prior" without knowing where
// it sits in the file.
type VarBuilder struct {
	store  *safetensors.Store
	prefix string
}

func OpenVarBuilder(path string, opts safetensors.StoreOptions) (*VarBuilder, error) {
	store, err := safetensors.OpenStore(path, opts)
	if err != nil {
		return nil, err
	}

	return &VarBuilder{store: store}, nil
}

func NewVarBuilder(store *safetensors.Store) *VarBuilder {
	return &VarBuilder{store: store}
}

// Path returns a builder scoped under the given name parts. Empty parts are
// skipped; a part may itself contain dots.
func (vb *VarBuilder) Path(parts ...string) *VarBuilder {
	if vb == nil {
		return nil
	}

	segs := make([]string, 0, len(parts)+1)
	if vb.prefix != "" {
		segs = append(segs, vb.prefix)
	}

	for _, p := range parts {
		if p = strings.Trim(strings.TrimSpace(p), "."); p != "" {
			segs = append(segs, p)
		}
	}

	return &VarBuilder{store: vb.store, prefix: strings.Join(segs, ".")}
}

func (vb *VarBuilder) Prefix() string {
	if vb == nil {
		return ""
	}

	return vb.prefix
}

func (vb *VarBuilder) Has(name string) bool {
	if vb == nil || vb.store == nil {
		return false
	}

	return vb.store.Has(vb.resolve(name))
}

// Tensor loads name and, when wantShape is given, checks it exactly.
func (vb *VarBuilder) Tensor(name string, wantShape ...int64) (*tensor.Tensor, error) {
	if vb == nil || vb.store == nil {
		return nil, errors.New("native: varbuilder has no store")
	}

	full := vb.resolve(name)

	st, err := vb.store.Tensor(full)
	if err != nil {
		return nil, err
	}

	if len(wantShape) > 0 && !slices.Equal(st.Shape, wantShape) {
		return nil, fmt.Errorf("native: tensor %q shape %v does not match expected %v", full, st.Shape, wantShape)
	}

	t, err := tensor.New(st.Data, st.Shape)
	if err != nil {
		return nil, fmt.Errorf("native: tensor %q: %w", full, err)
	}

	return t, nil
}

// TensorMaybe is Tensor for optional weights; ok is false when name is absent.
func (vb *VarBuilder) TensorMaybe(name string, wantShape ...int64) (*tensor.Tensor, bool, error) {
	if !vb.Has(name) {
		return nil, false, nil
	}

	t, err := vb.Tensor(name, wantShape...)

	return t, true, err
}

func (vb *VarBuilder) Close() {
	if vb != nil && vb.store != nil {
		vb.store.Close()
	}
}

func (vb *VarBuilder) resolve(name string) string {
	name = strings.TrimSpace(name)

	switch {
	case vb.prefix == "":
		return name
	case name == "":
		return vb.prefix
	default:
		return vb.prefix + "." + name
	}
}
