package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
)

// Model is the opaque predictor: [1, C, H, W] in, [1, 1, H, W] out.
// Backends can be swapped without touching the engine.
type Model interface {
	Forward(ctx context.Context, input Tensor) (Tensor, error)
	InputChannels() int
	Version() string
}

const (
	DefaultInputChannels  = 7 // 4 spectral bands + NDVI, EVI, NDMI
	DefaultHiddenChannels = 16
	kernel                = 3
)

// SoilCNN is a two-layer convolutional network:
// conv3x3(C->hidden) -> ReLU -> conv3x3(hidden->1) -> tanh, zero padding 1.
// The tanh keeps raw output in [-1, 1], which the engine maps onto each
// target's physical range.
type SoilCNN struct {
	version string
	in      int
	hidden  int
	w1      []float64 // [hidden][in][3][3]
	b1      []float64 // [hidden]
	w2      []float64 // [hidden][3][3]
	b2      float64
}

var _ Model = (*SoilCNN)(nil)

// NewSoilCNN initialises weights uniformly in +-1/sqrt(fan_in) from seed.
func NewSoilCNN(version string, in, hidden int, seed uint64) *SoilCNN {
	if in <= 0 {
		in = DefaultInputChannels
	}
	if hidden <= 0 {
		hidden = DefaultHiddenChannels
	}
	rng := rand.New(rand.NewPCG(seed, uint64(in)<<16|uint64(hidden)))
	uniform := func(n, fanIn int) []float64 {
		k := 1 / math.Sqrt(float64(fanIn))
		out := make([]float64, n)
		for i := range out {
			out[i] = (2*rng.Float64() - 1) * k
		}
		return out
	}
	m := &SoilCNN{version: version, in: in, hidden: hidden}
	m.w1 = uniform(hidden*in*kernel*kernel, in*kernel*kernel)
	m.b1 = uniform(hidden, in*kernel*kernel)
	m.w2 = uniform(hidden*kernel*kernel, hidden*kernel*kernel)
	m.b2 = uniform(1, hidden*kernel*kernel)[0]
	return m
}

// soilCNNWeights is the on-disk JSON form of a trained SoilCNN.
type soilCNNWeights struct {
	Version        string    `json:"version"`
	InChannels     int       `json:"in_channels"`
	HiddenChannels int       `json:"hidden_channels"`
	Conv1Weight    []float64 `json:"conv1_weight"`
	Conv1Bias      []float64 `json:"conv1_bias"`
	Conv2Weight    []float64 `json:"conv2_weight"`
	Conv2Bias      float64   `json:"conv2_bias"`
}

// LoadSoilCNN reads exported weights from a JSON file.
func LoadSoilCNN(path string) (*SoilCNN, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model weights: %w", err)
	}
	var w soilCNNWeights
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode model weights %s: %w", path, err)
	}
	if w.InChannels <= 0 || w.HiddenChannels <= 0 {
		return nil, fmt.Errorf("model weights %s: channel counts must be positive", path)
	}
	if len(w.Conv1Weight) != w.HiddenChannels*w.InChannels*kernel*kernel ||
		len(w.Conv1Bias) != w.HiddenChannels ||
		len(w.Conv2Weight) != w.HiddenChannels*kernel*kernel {
		return nil, fmt.Errorf("model weights %s: tensor sizes do not match %d->%d channels", path, w.InChannels, w.HiddenChannels)
	}
	return &SoilCNN{
		version: w.Version,
		in:      w.InChannels,
		hidden:  w.HiddenChannels,
		w1:      w.Conv1Weight,
		b1:      w.Conv1Bias,
		w2:      w.Conv2Weight,
		b2:      w.Conv2Bias,
	}, nil
}

// Save writes the weights in the format LoadSoilCNN reads.
func (m *SoilCNN) Save(path string) error {
	raw, err := json.Marshal(soilCNNWeights{
		Version:        m.version,
		InChannels:     m.in,
		HiddenChannels: m.hidden,
		Conv1Weight:    m.w1,
		Conv1Bias:      m.b1,
		Conv2Weight:    m.w2,
		Conv2Bias:      m.b2,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func (m *SoilCNN) InputChannels() int { return m.in }
func (m *SoilCNN) Version() string    { return m.version }

func (m *SoilCNN) Forward(ctx context.Context, input Tensor) (Tensor, error) {
	if err := input.Validate(); err != nil {
		return Tensor{}, err
	}
	if len(input.Shape) != 4 || input.Shape[0] != 1 {
		return Tensor{}, fmt.Errorf("soilcnn: want input shape [1 C H W], got %v", input.Shape)
	}
	c, h, w := input.Shape[1], input.Shape[2], input.Shape[3]
	if c != m.in {
		return Tensor{}, fmt.Errorf("soilcnn: model expects %d channels, got %d", m.in, c)
	}

	hiddenOut := make([]float64, m.hidden*h*w)
	for o := 0; o < m.hidden; o++ {
		if err := ctx.Err(); err != nil {
			return Tensor{}, err
		}
		dst := hiddenOut[o*h*w : (o+1)*h*w]
		conv3x3(dst, input.Data, c, h, w, m.w1[o*c*kernel*kernel:(o+1)*c*kernel*kernel], m.b1[o])
		for i, v := range dst {
			if v < 0 {
				dst[i] = 0
			}
		}
	}

	out := NewTensor(1, 1, h, w)
	conv3x3(out.Data, hiddenOut, m.hidden, h, w, m.w2, m.b2)
	for i, v := range out.Data {
		out.Data[i] = math.Tanh(v)
	}
	return out, nil
}

// conv3x3 writes one output plane: bias + sum over input channels of a 3x3
// kernel with zero padding.
func conv3x3(dst, src []float64, channels, h, w int, weights []float64, bias float64) {
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := bias
			for ch := 0; ch < channels; ch++ {
				in := src[ch*plane : (ch+1)*plane]
				k := weights[ch*kernel*kernel : (ch+1)*kernel*kernel]
				for ky := -1; ky <= 1; ky++ {
					yy := y + ky
					if yy < 0 || yy >= h {
						continue
					}
					for kx := -1; kx <= 1; kx++ {
						xx := x + kx
						if xx < 0 || xx >= w {
							continue
						}
						acc += in[yy*w+xx] * k[(ky+1)*kernel+(kx+1)]
					}
				}
			}
			dst[y*w+x] = acc
		}
	}
}
