package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const plyHeader = `ply
format binary_little_endian 1.0
comment depth-capture-service
element vertex %d
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
end_header
`

// vertexSize is three float32 coordinates and three colour bytes.
const vertexSize = 3*4 + 3

// WritePLY encodes the cloud as binary little-endian PLY.
func (c *Cloud) WritePLY(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1<<16)
	if _, err := fmt.Fprintf(bw, plyHeader, len(c.Vertices)); err != nil {
		return err
	}

	var buf [vertexSize]byte
	for _, v := range c.Vertices {
		binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(float32(v.Position.X)))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(v.Position.Y)))
		binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(v.Position.Z)))
		buf[12], buf[13], buf[14] = v.R, v.G, v.B
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes the cloud to path, replacing any existing file.
func (c *Cloud) WriteFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create point cloud: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close point cloud: %w", cerr)
		}
	}()
	if err := c.WritePLY(f); err != nil {
		return fmt.Errorf("write point cloud: %w", err)
	}
	return nil
}
