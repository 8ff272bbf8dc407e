package inference

import (
	"fmt"
	"image"
	"runtime"
	"sync"
)

// ImageNet channel statistics, applied after scaling to [0,1].
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocessor packs an RGB image into a planar NCHW float buffer.
// Pixels are scaled to [0,1] and, when Normalize is set, shifted by
// Mean and divided by Std per channel.
type Preprocessor struct {
	Width, Height int
	Normalize     bool
	Mean, Std     [3]float32
	numWorkers    int
}

func NewPreprocessor(width, height int) *Preprocessor {
	return &Preprocessor{
		Width:      width,
		Height:     height,
		Mean:       [3]float32{0, 0, 0},
		Std:        [3]float32{1, 1, 1},
		numWorkers: runtime.GOMAXPROCS(0),
	}
}

// WithImageNetNormalization switches the preprocessor to mean/std mode.
func (p *Preprocessor) WithImageNetNormalization() *Preprocessor {
	p.Normalize = true
	p.Mean = ImageNetMean
	p.Std = ImageNetStd
	return p
}

// Len is the number of floats a packed image occupies.
func (p *Preprocessor) Len() int { return 3 * p.Width * p.Height }

// Process writes img into dst. img must already be Width x Height.
func (p *Preprocessor) Process(img image.Image, dst []float32) error {
	b := img.Bounds()
	if b.Dx() != p.Width || b.Dy() != p.Height {
		return fmt.Errorf("image is %dx%d, want %dx%d", b.Dx(), b.Dy(), p.Width, p.Height)
	}
	if len(dst) < p.Len() {
		return fmt.Errorf("buffer holds %d values, want %d", len(dst), p.Len())
	}

	var scale, shift [3]float32
	for c := 0; c < 3; c++ {
		scale[c] = 1.0 / 255.0
		shift[c] = 0
		if p.Normalize {
			scale[c] /= p.Std[c]
			shift[c] = -p.Mean[c] / p.Std[c]
		}
	}

	rowFn := p.genericRow(img, dst, scale, shift)
	if nrgba, ok := img.(*image.NRGBA); ok {
		rowFn = p.nrgbaRow(nrgba, dst, scale, shift)
	}

	workers := p.numWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > p.Height {
		workers = p.Height
	}
	rowsPerWorker := (p.Height + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := min(start+rowsPerWorker, p.Height)
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				rowFn(y)
			}
		}(start, end)
	}
	wg.Wait()

	return nil
}

func (p *Preprocessor) nrgbaRow(img *image.NRGBA, dst []float32, scale, shift [3]float32) func(int) {
	channelSize := p.Width * p.Height
	return func(y int) {
		src := img.Pix[y*img.Stride : y*img.Stride+p.Width*4]
		base := y * p.Width
		for x := 0; x < p.Width; x++ {
			i := base + x
			dst[i] = float32(src[x*4])*scale[0] + shift[0]
			dst[channelSize+i] = float32(src[x*4+1])*scale[1] + shift[1]
			dst[channelSize*2+i] = float32(src[x*4+2])*scale[2] + shift[2]
		}
	}
}

func (p *Preprocessor) genericRow(img image.Image, dst []float32, scale, shift [3]float32) func(int) {
	channelSize := p.Width * p.Height
	origin := img.Bounds().Min
	return func(y int) {
		base := y * p.Width
		for x := 0; x < p.Width; x++ {
			i := base + x
			r, g, b, _ := img.At(origin.X+x, origin.Y+y).RGBA()
			dst[i] = float32(r>>8)*scale[0] + shift[0]
			dst[channelSize+i] = float32(g>>8)*scale[1] + shift[1]
			dst[channelSize*2+i] = float32(b>>8)*scale[2] + shift[2]
		}
	}
}
