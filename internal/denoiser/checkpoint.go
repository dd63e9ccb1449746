package denoiser

import (
	"fmt"

	"github.com/samcharles93/meldiff/pkg/ckpt"
)

// param names one trainable slice inside the model.
type param struct {
	name string
	dims []int
	data []float32
}

func (l *linear) params(prefix string) []param {
	return []param{
		{prefix + ".w", []int{l.out, l.in}, l.w},
		{prefix + ".b", []int{l.out}, l.b},
	}
}

func (c *conv1d) params(prefix string) []param {
	ps := []param{{prefix + ".w", []int{c.out, c.in, c.kernel}, c.w}}
	if c.b != nil {
		ps = append(ps, param{prefix + ".b", []int{c.out}, c.b})
	}
	return ps
}

func (m *WaveNet) params() []param {
	var ps []param
	ps = append(ps, m.tFC1.params("temb.fc1")...)
	ps = append(ps, m.tFC2.params("temb.fc2")...)
	ps = append(ps, m.firstConv.params("first")...)
	for j, l := range m.tLayers {
		ps = append(ps, l.params(fmt.Sprintf("tproj.%d", j))...)
	}
	for j, blk := range m.blocks {
		ps = append(ps, blk.conv.params(fmt.Sprintf("block.%d.conv", j))...)
		ps = append(ps, blk.condConv.params(fmt.Sprintf("block.%d.cond", j))...)
		ps = append(ps, blk.outConv.params(fmt.Sprintf("block.%d.out", j))...)
		ps = append(ps, blk.skipConv.params(fmt.Sprintf("block.%d.skip", j))...)
	}
	ps = append(ps, m.headConv1.params("head.fc1")...)
	ps = append(ps, m.headConv2.params("head.fc2")...)
	return ps
}

// Save writes the model to a checkpoint file at path.
func Save(m *WaveNet, path string) error {
	w, err := ckpt.NewWriter(path, m.cfg)
	if err != nil {
		return err
	}
	for _, p := range m.params() {
		if err := w.Add(p.name, p.dims, p.data); err != nil {
			return err
		}
	}
	return w.Close()
}

// Load reads a checkpoint written by Save and reconstructs the model.
func Load(path string) (*WaveNet, error) {
	f, err := ckpt.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var cfg Config
	if err := f.Meta(&cfg); err != nil {
		return nil, fmt.Errorf("denoiser: decode checkpoint meta: %w", err)
	}
	m, err := New(cfg, 0)
	if err != nil {
		return nil, err
	}
	for _, p := range m.params() {
		data, dims, err := f.ReadTensor(p.name)
		if err != nil {
			return nil, err
		}
		if len(dims) != len(p.dims) {
			return nil, fmt.Errorf("%w: tensor %q rank %d, want %d", ErrShapeMismatch, p.name, len(dims), len(p.dims))
		}
		for i, d := range dims {
			if d != p.dims[i] {
				return nil, fmt.Errorf("%w: tensor %q dims %v, want %v", ErrShapeMismatch, p.name, dims, p.dims)
			}
		}
		copy(p.data, data)
	}
	return m, nil
}
