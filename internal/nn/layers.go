package nn

// Conv2D is a 3x3, stride 1, zero padding 1 convolution.
// Weight layout is [OutC][InC][3][3].
type Conv2D struct {
	InC    int
	OutC   int
	Weight []float32
	Bias   []float32
}

// KernelSize is the spatial extent of every convolution kernel.
const KernelSize = 3

func newConv2D(in, out int) Conv2D {
	return Conv2D{
		InC:    in,
		OutC:   out,
		Weight: make([]float32, out*in*KernelSize*KernelSize),
		Bias:   make([]float32, out),
	}
}

// Apply convolves an [InC][h][w] input into a new [OutC][h][w] output.
func (c *Conv2D) Apply(in []float32, h, w int) []float32 {
	hw := h * w
	out := make([]float32, c.OutC*hw)
	for o := 0; o < c.OutC; o++ {
		dst := out[o*hw : (o+1)*hw]
		for i := range dst {
			dst[i] = c.Bias[o]
		}
		for ic := 0; ic < c.InC; ic++ {
			src := in[ic*hw : (ic+1)*hw]
			kernel := c.Weight[(o*c.InC+ic)*KernelSize*KernelSize:]
			for ky := 0; ky < KernelSize; ky++ {
				dy := ky - 1
				y0, y1 := max(0, -dy), min(h, h-dy)
				for kx := 0; kx < KernelSize; kx++ {
					dx := kx - 1
					x0, x1 := max(0, -dx), min(w, w-dx)
					k := kernel[ky*KernelSize+kx]
					if k == 0 {
						continue
					}
					for y := y0; y < y1; y++ {
						drow := dst[y*w : (y+1)*w]
						srow := src[(y+dy)*w : (y+dy+1)*w]
						for x := x0; x < x1; x++ {
							drow[x] += k * srow[x+dx]
						}
					}
				}
			}
		}
	}
	return out
}

// Linear is a fully connected layer with weight layout [Out][In].
type Linear struct {
	In     int
	Out    int
	Weight []float32
	Bias   []float32
}

func newLinear(in, out int) Linear {
	return Linear{
		In:     in,
		Out:    out,
		Weight: make([]float32, out*in),
		Bias:   make([]float32, out),
	}
}

// Apply computes Wx + b.
func (l *Linear) Apply(x []float32) []float32 {
	out := make([]float32, l.Out)
	for j := 0; j < l.Out; j++ {
		row := l.Weight[j*l.In : (j+1)*l.In]
		sum := l.Bias[j]
		for i, v := range x {
			sum += row[i] * v
		}
		out[j] = sum
	}
	return out
}

// ReLU clamps negative values to zero in place.
func ReLU(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// MaxPool2 downsamples each [h][w] plane of a [c][h][w] volume by taking the
// maximum over non-overlapping 2x2 windows. Odd trailing rows and columns
// are dropped.
func MaxPool2(in []float32, c, h, w int) ([]float32, int, int) {
	oh, ow := h/2, w/2
	out := make([]float32, c*oh*ow)
	for ch := 0; ch < c; ch++ {
		src := in[ch*h*w:]
		dst := out[ch*oh*ow:]
		for y := 0; y < oh; y++ {
			r0 := src[(2*y)*w:]
			r1 := src[(2*y+1)*w:]
			for x := 0; x < ow; x++ {
				m := r0[2*x]
				if v := r0[2*x+1]; v > m {
					m = v
				}
				if v := r1[2*x]; v > m {
					m = v
				}
				if v := r1[2*x+1]; v > m {
					m = v
				}
				dst[y*ow+x] = m
			}
		}
	}
	return out, oh, ow
}
