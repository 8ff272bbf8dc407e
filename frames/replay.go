package frames

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/Tutortoise/depth-capture-service/models"
)

// GeometryFile is the optional camera description inside a replay directory.
const GeometryFile = "camera.json"

// ReplayDevice plays back recorded pairs from a directory laid out as
// color_<key>.{png,jpg} + depth_<key>.png (16-bit grey). A colour frame
// without a depth partner is delivered as an incomplete frame set.
type ReplayDevice struct {
	dir  string
	loop bool

	mu      sync.Mutex
	keys    []replayKey
	pos     int
	geom    models.CameraGeometry
	stopped bool
}

type replayKey struct {
	color string
	depth string
}

func NewReplayDevice(dir string, loop bool) *ReplayDevice {
	return &ReplayDevice{dir: dir, loop: loop}
}

func (d *ReplayDevice) Start(_ context.Context) (models.CameraGeometry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys, err := scanReplayDir(d.dir)
	if err != nil {
		return models.CameraGeometry{}, err
	}
	if len(keys) == 0 {
		return models.CameraGeometry{}, fmt.Errorf("no color_* frames in %s", d.dir)
	}
	d.keys = keys

	geom, err := loadGeometry(filepath.Join(d.dir, GeometryFile))
	if err != nil {
		return models.CameraGeometry{}, err
	}
	if geom == nil {
		// no description: assume a co-located sensor with a generic lens
		img, err := imaging.Open(keys[0].color)
		if err != nil {
			return models.CameraGeometry{}, fmt.Errorf("open %s: %w", keys[0].color, err)
		}
		b := img.Bounds()
		in := models.Intrinsics{
			Width:  b.Dx(),
			Height: b.Dy(),
			Fx:     float64(b.Dx()) * 0.95,
			Fy:     float64(b.Dx()) * 0.95,
			Ppx:    float64(b.Dx()) / 2,
			Ppy:    float64(b.Dy()) / 2,
		}
		geom = &models.CameraGeometry{Depth: in, Color: in, DepthToColor: models.IdentityExtrinsics(), DepthScale: 0.001}
	}
	d.geom = *geom
	return d.geom, nil
}

func scanReplayDir(dir string) ([]replayKey, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read replay dir: %w", err)
	}
	var keys []replayKey
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "color_") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			continue
		}
		stem := strings.TrimSuffix(strings.TrimPrefix(name, "color_"), filepath.Ext(name))
		k := replayKey{color: filepath.Join(dir, name)}
		depth := filepath.Join(dir, "depth_"+stem+".png")
		if _, err := os.Stat(depth); err == nil {
			k.depth = depth
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].color < keys[j].color
	})
	return keys, nil
}

func loadGeometry(path string) (*models.CameraGeometry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var geom models.CameraGeometry
	if err := json.Unmarshal(data, &geom); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if geom.DepthScale <= 0 {
		geom.DepthScale = 0.001
	}
	return &geom, nil
}

func (d *ReplayDevice) WaitForFrames(ctx context.Context) (Frameset, error) {
	if err := ctx.Err(); err != nil {
		return Frameset{}, err
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return Frameset{}, ErrDeviceClosed
	}
	if d.pos >= len(d.keys) {
		if !d.loop {
			d.mu.Unlock()
			return Frameset{}, ErrDeviceClosed
		}
		d.pos = 0
	}
	k := d.keys[d.pos]
	d.pos++
	scale := d.geom.DepthScale
	d.mu.Unlock()

	img, err := imaging.Open(k.color)
	if err != nil {
		return Frameset{}, fmt.Errorf("open %s: %w", k.color, err)
	}
	fs := Frameset{Color: imaging.Clone(img)}
	if k.depth == "" {
		return fs, nil
	}
	fs.Depth, err = readDepthPNG(k.depth, scale)
	if err != nil {
		return Frameset{}, err
	}
	return fs, nil
}

// readDepthPNG decodes a 16-bit greyscale PNG into raw depth units.
func readDepthPNG(path string, scale float64) (*models.DepthImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	dm := models.NewDepthImage(b.Dx(), b.Dy(), scale)
	if g, ok := img.(*image.Gray16); ok {
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				dm.Pix[y*dm.Width+x] = g.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return dm, nil
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			dm.Pix[y*dm.Width+x] = uint16(r)
		}
	}
	return dm, nil
}

// WriteDepthPNG stores depth as a 16-bit greyscale PNG readable by ReplayDevice.
func WriteDepthPNG(path string, dm *models.DepthImage) error {
	g := image.NewGray16(image.Rect(0, 0, dm.Width, dm.Height))
	for y := 0; y < dm.Height; y++ {
		for x := 0; x < dm.Width; x++ {
			i := g.PixOffset(x, y)
			v := dm.Pix[y*dm.Width+x]
			g.Pix[i] = uint8(v >> 8)
			g.Pix[i+1] = uint8(v)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, g); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *ReplayDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}
