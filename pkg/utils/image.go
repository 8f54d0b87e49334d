// Package utils provides image helpers shared by the API and the CLI
package utils

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ResizeImage resizes an image using bilinear interpolation
func ResizeImage(src image.Image, dstWidth, dstHeight int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// CropImage crops a region, given relative to the image origin, clamped to
// the image. An empty intersection is an error.
func CropImage(img image.Image, x, y, width, height int) (image.Image, error) {
	bounds := img.Bounds()
	region := image.Rect(x, y, x+width, y+height).Add(bounds.Min).Intersect(bounds)
	if region.Empty() {
		return nil, fmt.Errorf("crop region %dx%d+%d+%d is outside the %dx%d image",
			width, height, x, y, bounds.Dx(), bounds.Dy())
	}

	cropped := image.NewNRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, region.Min, draw.Src)

	return cropped, nil
}

// FitWithin downscales an image so its longer side is at most maxDim,
// keeping the aspect ratio. Smaller images and maxDim <= 0 return img as is.
func FitWithin(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	if w >= h {
		h = max(1, int(math.Round(float64(h)*float64(maxDim)/float64(w))))
		w = maxDim
	} else {
		w = max(1, int(math.Round(float64(w)*float64(maxDim)/float64(h))))
		h = maxDim
	}

	return ResizeImage(img, w, h)
}
