package liveness

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	// Registered decoders for Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// minDimension is the smallest side that still has an interior pixel
const minDimension = 3

// Raster is a decoded 8-bit colour image split into planes.
// Planes are row-major with len == Width*Height and are never modified.
type Raster struct {
	Width  int
	Height int
	R      []uint8
	G      []uint8
	B      []uint8
	Gray   []uint8
}

// Decode reads an encoded image (JPEG, PNG, GIF, BMP or WebP) into a Raster
func Decode(data []byte) (*Raster, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image buffer", ErrDecode)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return NewRaster(img)
}

// NewRaster converts an image to planar RGB and grayscale. Alpha is dropped.
func NewRaster(img image.Image) (*Raster, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrDecode)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < minDimension || height < minDimension {
		return nil, fmt.Errorf("%w: image too small (%dx%d)", ErrDegenerate, width, height)
	}

	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(nrgba, nrgba.Rect, img, bounds.Min, draw.Src)
	}

	n := width * height
	r := &Raster{
		Width:  width,
		Height: height,
		R:      make([]uint8, n),
		G:      make([]uint8, n),
		B:      make([]uint8, n),
		Gray:   make([]uint8, n),
	}

	for y := 0; y < height; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+width*4]
		for x := 0; x < width; x++ {
			i := y*width + x
			red, green, blue := row[x*4], row[x*4+1], row[x*4+2]
			r.R[i] = red
			r.G[i] = green
			r.B[i] = blue
			r.Gray[i] = luma(red, green, blue)
		}
	}

	return r, nil
}

// luma is the BT.601 grayscale value in 14-bit fixed point, rounded
func luma(r, g, b uint8) uint8 {
	return uint8((uint32(r)*4899 + uint32(g)*9617 + uint32(b)*1868 + 8192) >> 14)
}

// Pixels returns the number of pixels in the raster
func (r *Raster) Pixels() int {
	return r.Width * r.Height
}
