// Package camera provides single-frame capture using V4L2
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"github.com/faceattend/faceattend/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// Frame represents a captured video frame
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    v4l2.FourCCType
	Timestamp time.Time
}

// ToImage converts the frame to a Go image.Image
func (f *Frame) ToImage() (image.Image, error) {
	switch f.Format {
	case v4l2.PixelFmtMJPEG:
		return jpeg.Decode(bytes.NewReader(f.Data))
	case v4l2.PixelFmtYUYV:
		return yuyvToRGB(f.Data, f.Width, f.Height)
	case v4l2.PixelFmtRGB24:
		return rgb24ToImage(f.Data, f.Width, f.Height)
	case v4l2.PixelFmtGrey:
		return greyToImage(f.Data, f.Width, f.Height)
	default:
		return nil, fmt.Errorf("unsupported pixel format: %v", f.Format)
	}
}

// PixelFormat maps a configured format name to its V4L2 code
func PixelFormat(name string) (v4l2.FourCCType, error) {
	switch name {
	case "MJPEG", "":
		return v4l2.PixelFmtMJPEG, nil
	case "YUYV":
		return v4l2.PixelFmtYUYV, nil
	case "RGB24":
		return v4l2.PixelFmtRGB24, nil
	case "GREY":
		return v4l2.PixelFmtGrey, nil
	default:
		return 0, fmt.Errorf("unsupported pixel format %q", name)
	}
}

// Camera represents a V4L2 camera device
type Camera struct {
	device *device.Device
	config config.CameraConfig
	format v4l2.PixFormat
	logger *logrus.Logger
}

// Open opens the configured device and negotiates the capture format
func Open(cfg config.CameraConfig, logger *logrus.Logger) (*Camera, error) {
	fourcc, err := PixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}

	dev, err := device.Open(cfg.Device,
		device.WithPixFormat(v4l2.PixFormat{
			Width:       uint32(cfg.Width),
			Height:      uint32(cfg.Height),
			PixelFormat: fourcc,
		}),
		device.WithFPS(uint32(cfg.FPS)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera device %s: %w", cfg.Device, err)
	}

	// The driver may adjust the requested size
	format, err := dev.GetPixFormat()
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("failed to read pixel format: %w", err)
	}

	logger.Debugf("Camera %s opened at %dx%d", cfg.Device, format.Width, format.Height)

	return &Camera{
		device: dev,
		config: cfg,
		format: format,
		logger: logger,
	}, nil
}

// Capture starts streaming, drops the configured warm-up frames so exposure
// can settle, and returns the next frame
func (c *Camera) Capture(ctx context.Context) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.device.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start camera: %w", err)
	}
	defer func() {
		if err := c.device.Stop(); err != nil {
			c.logger.Warnf("Failed to stop camera: %v", err)
		}
	}()

	frames := c.device.GetOutput()
	for skipped := 0; ; skipped++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for frame: %w", ctx.Err())
		case buf, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("camera stream closed")
			}
			if skipped < c.config.WarmupFrames {
				continue
			}

			// Make a copy of the buffer data
			data := make([]byte, len(buf))
			copy(data, buf)

			return &Frame{
				Data:      data,
				Width:     int(c.format.Width),
				Height:    int(c.format.Height),
				Format:    c.format.PixelFormat,
				Timestamp: time.Now(),
			}, nil
		}
	}
}

// CaptureImage captures one frame and decodes it
func (c *Camera) CaptureImage(ctx context.Context) (image.Image, error) {
	frame, err := c.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return frame.ToImage()
}

// Close releases camera resources
func (c *Camera) Close() error {
	if c.device != nil {
		return c.device.Close()
	}
	return nil
}

// Helper functions for format conversion

func yuyvToRGB(data []byte, width, height int) (image.Image, error) {
	if len(data) < width*height*2 {
		return nil, fmt.Errorf("short YUYV frame: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x+1 < width; x += 2 {
			// YUYV is 4 bytes for 2 pixels
			idx := (y*width + x) * 2

			Y0 := int(data[idx])
			U := int(data[idx+1]) - 128
			Y1 := int(data[idx+2])
			V := int(data[idx+3]) - 128

			r0, g0, b0 := yuvToRGB(Y0, U, V)
			r1, g1, b1 := yuvToRGB(Y1, U, V)

			img.SetNRGBA(x, y, color.NRGBA{R: r0, G: g0, B: b0, A: 255})
			img.SetNRGBA(x+1, y, color.NRGBA{R: r1, G: g1, B: b1, A: 255})
		}
	}

	return img, nil
}

// yuvToRGB converts studio-range BT.601
func yuvToRGB(y, u, v int) (uint8, uint8, uint8) {
	c := y - 16
	d := u
	e := v

	R := (298*c + 409*e + 128) >> 8
	G := (298*c - 100*d - 208*e + 128) >> 8
	B := (298*c + 516*d + 128) >> 8

	return clampUint8(R), clampUint8(G), clampUint8(B)
}

func clampUint8(val int) uint8 {
	if val < 0 {
		return 0
	}
	if val > 255 {
		return 255
	}
	return uint8(val)
}

func rgb24ToImage(data []byte, width, height int) (image.Image, error) {
	if len(data) < width*height*3 {
		return nil, fmt.Errorf("short RGB24 frame: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[i*4] = data[i*3]
		img.Pix[i*4+1] = data[i*3+1]
		img.Pix[i*4+2] = data[i*3+2]
		img.Pix[i*4+3] = 255
	}

	return img, nil
}

func greyToImage(data []byte, width, height int) (image.Image, error) {
	if len(data) < width*height {
		return nil, fmt.Errorf("short GREY frame: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	copy(img.Pix, data)
	return img, nil
}
