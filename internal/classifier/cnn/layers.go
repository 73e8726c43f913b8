package cnn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// volume is a batch of feature maps in NHWC order.
type volume struct {
	n, h, w, c int
	data       []float64
}

func newVolume(n, h, w, c int) *volume {
	return &volume{n: n, h: h, w: w, c: c, data: make([]float64, n*h*w*c)}
}

// param pairs a trainable slice with its gradient buffer.
type param struct {
	value []float64
	grad  []float64
}

func glorotUniform(rng *rand.Rand, size, fanIn, fanOut int) []float64 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	data := make([]float64, size)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return data
}

func rawData(m *mat.Dense) []float64 {
	return m.RawMatrix().Data
}

// conv2d is a valid (unpadded) stride-1 convolution followed by ReLU.
// Weights are laid out as (k*k*inC) x outC so a whole batch is one matrix
// product over the im2col expansion.
type conv2d struct {
	inC, outC, k int

	w  *mat.Dense
	b  []float64
	dw *mat.Dense
	db []float64
}

func newConv2D(inC, outC, k int, rng *rand.Rand) *conv2d {
	fanIn := k * k * inC
	fanOut := k * k * outC
	return &conv2d{
		inC:  inC,
		outC: outC,
		k:    k,
		w:    mat.NewDense(fanIn, outC, glorotUniform(rng, fanIn*outC, fanIn, fanOut)),
		b:    make([]float64, outC),
		dw:   mat.NewDense(fanIn, outC, nil),
		db:   make([]float64, outC),
	}
}

func (l *conv2d) params() []param {
	return []param{{rawData(l.w), rawData(l.dw)}, {l.b, l.db}}
}

// forward returns the activated output and the im2col matrix needed by
// backward.
func (l *conv2d) forward(in *volume) (*volume, *mat.Dense) {
	cols := im2col(in, l.k)
	var z mat.Dense
	z.Mul(cols, l.w)

	oh, ow := in.h-l.k+1, in.w-l.k+1
	out := newVolume(in.n, oh, ow, l.outC)
	rows, _ := z.Dims()
	for r := 0; r < rows; r++ {
		dst := out.data[r*l.outC : (r+1)*l.outC]
		for j, v := range z.RawRowView(r) {
			v += l.b[j]
			if v < 0 {
				v = 0
			}
			dst[j] = v
		}
	}
	return out, cols
}

// backward consumes dOut (gradient w.r.t. the activated output, modified
// in place), fills dw/db and returns the gradient w.r.t. in when needInput.
func (l *conv2d) backward(in *volume, cols *mat.Dense, out *volume, dOut []float64, needInput bool) *volume {
	for i, v := range out.data {
		if v <= 0 {
			dOut[i] = 0
		}
	}

	rows := out.n * out.h * out.w
	d := mat.NewDense(rows, l.outC, dOut)
	l.dw.Mul(cols.T(), d)

	clear(l.db)
	for r := 0; r < rows; r++ {
		for j, g := range dOut[r*l.outC : (r+1)*l.outC] {
			l.db[j] += g
		}
	}

	if !needInput {
		return nil
	}
	var dCols mat.Dense
	dCols.Mul(d, l.w.T())
	return col2im(&dCols, in, l.k)
}

// im2col expands every k x k patch into a row ordered (ky, kx, c).
func im2col(in *volume, k int) *mat.Dense {
	oh, ow := in.h-k+1, in.w-k+1
	width := k * k * in.c
	span := k * in.c
	data := make([]float64, in.n*oh*ow*width)

	idx := 0
	for n := 0; n < in.n; n++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				for ky := 0; ky < k; ky++ {
					src := ((n*in.h+y+ky)*in.w + x) * in.c
					copy(data[idx:idx+span], in.data[src:src+span])
					idx += span
				}
			}
		}
	}
	return mat.NewDense(in.n*oh*ow, width, data)
}

// col2im scatters patch gradients back onto a volume shaped like like.
func col2im(cols *mat.Dense, like *volume, k int) *volume {
	d := newVolume(like.n, like.h, like.w, like.c)
	oh, ow := like.h-k+1, like.w-k+1
	span := k * like.c

	r := 0
	for n := 0; n < like.n; n++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				row := cols.RawRowView(r)
				for ky := 0; ky < k; ky++ {
					dst := ((n*like.h+y+ky)*like.w + x) * like.c
					src := row[ky*span : (ky+1)*span]
					for i, g := range src {
						d.data[dst+i] += g
					}
				}
				r++
			}
		}
	}
	return d
}

// maxPool applies 2x2 stride-2 pooling, dropping a trailing odd row or
// column. The returned indices point into in.data.
func maxPool(in *volume) (*volume, []int) {
	oh, ow := in.h/2, in.w/2
	out := newVolume(in.n, oh, ow, in.c)
	argmax := make([]int, len(out.data))

	i := 0
	for n := 0; n < in.n; n++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				for c := 0; c < in.c; c++ {
					best := math.Inf(-1)
					bestIdx := 0
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							idx := ((n*in.h+2*y+dy)*in.w+2*x+dx)*in.c + c
							if in.data[idx] > best {
								best = in.data[idx]
								bestIdx = idx
							}
						}
					}
					out.data[i] = best
					argmax[i] = bestIdx
					i++
				}
			}
		}
	}
	return out, argmax
}

func maxPoolBackward(dOut []float64, argmax []int, in *volume) *volume {
	d := newVolume(in.n, in.h, in.w, in.c)
	for i, g := range dOut {
		d.data[argmax[i]] += g
	}
	return d
}

// dense is a fully connected layer, optionally followed by ReLU.
type dense struct {
	w    *mat.Dense
	b    []float64
	dw   *mat.Dense
	db   []float64
	relu bool
}

func newDense(in, out int, relu bool, rng *rand.Rand) *dense {
	return &dense{
		w:    mat.NewDense(in, out, glorotUniform(rng, in*out, in, out)),
		b:    make([]float64, out),
		dw:   mat.NewDense(in, out, nil),
		db:   make([]float64, out),
		relu: relu,
	}
}

func (l *dense) params() []param {
	return []param{{rawData(l.w), rawData(l.dw)}, {l.b, l.db}}
}

func (l *dense) forward(x *mat.Dense) *mat.Dense {
	var z mat.Dense
	z.Mul(x, l.w)
	rows, _ := z.Dims()
	for i := 0; i < rows; i++ {
		row := z.RawRowView(i)
		for j := range row {
			row[j] += l.b[j]
			if l.relu && row[j] < 0 {
				row[j] = 0
			}
		}
	}
	return &z
}

// backward fills dw/db from dOut (modified in place for ReLU) and returns
// the gradient w.r.t. x.
func (l *dense) backward(x, out, dOut *mat.Dense) *mat.Dense {
	rows, _ := dOut.Dims()
	if l.relu {
		for i := 0; i < rows; i++ {
			g := dOut.RawRowView(i)
			o := out.RawRowView(i)
			for j := range g {
				if o[j] <= 0 {
					g[j] = 0
				}
			}
		}
	}

	l.dw.Mul(x.T(), dOut)
	clear(l.db)
	for i := 0; i < rows; i++ {
		for j, g := range dOut.RawRowView(i) {
			l.db[j] += g
		}
	}

	var dx mat.Dense
	dx.Mul(dOut, l.w.T())
	return &dx
}

// softmaxRows replaces every row of m with its softmax.
func softmaxRows(m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		maxV := math.Inf(-1)
		for _, v := range row {
			maxV = math.Max(maxV, v)
		}
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - maxV)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}
