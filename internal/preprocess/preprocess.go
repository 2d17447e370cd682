// Package preprocess turns uploaded image bytes into the normalized,
// channel-first tensor the classifiers consume.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageSize is the side length every input is resized to.
const ImageSize = 224

// Channels is the number of color channels in a tensor (RGB).
const Channels = 3

// ErrDecode reports bytes that could not be decoded as an image.
var ErrDecode = errors.New("decode image")

// Mean and Std are the per-channel normalization constants (RGB order).
var (
	Mean = [Channels]float32{0.485, 0.456, 0.406}
	Std  = [Channels]float32{0.229, 0.224, 0.225}
)

// Tensor is a dense float32 array in NCHW layout.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// Len returns the number of elements implied by the shape.
func (t Tensor) Len() int {
	return t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3]
}

// FromBytes decodes, resizes and normalizes an image into a 1x3x224x224 tensor.
func FromBytes(data []byte) (Tensor, error) {
	img, err := Decode(data)
	if err != nil {
		return Tensor{}, err
	}
	return FromImage(img, ImageSize), nil
}

// Decode parses any registered image format. Images carrying transparency
// have their alpha discarded rather than composited.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		return src, nil
	}
	return toRGB(src), nil
}

// FromImage resizes img to size x size, ignoring aspect ratio, and
// normalizes it channel by channel.
func FromImage(img image.Image, size int) Tensor {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	rgb := toRGB(resized)

	plane := size * size
	data := make([]float32, Channels*plane)
	for y := 0; y < size; y++ {
		row := rgb.Pix[y*rgb.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			idx := y*size + x
			for c := 0; c < Channels; c++ {
				v := float32(px[c]) / 255
				data[c*plane+idx] = (v - Mean[c]) / Std[c]
			}
		}
	}

	return Tensor{Shape: [4]int{1, Channels, size, size}, Data: data}
}

// toRGB copies img into a zero-origin NRGBA buffer with every alpha forced
// to opaque, keeping the straight color values. Paletted images take their
// colors from the palette, so transparent entries keep their RGB.
func toRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if p, ok := img.(*image.Paletted); ok {
		palette := make([]color.NRGBA, len(p.Palette))
		for i, c := range p.Palette {
			palette[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				var c color.NRGBA
				if idx := int(p.ColorIndexAt(b.Min.X+x, b.Min.Y+y)); idx < len(palette) {
					c = palette[idx]
				}
				c.A = 0xff
				dst.SetNRGBA(x, y, c)
			}
		}
		return dst
	}

	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
