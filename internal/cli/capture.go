package cli

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"

	"github.com/faceattend/faceattend/internal/api"
	"github.com/faceattend/faceattend/internal/camera"
	"github.com/faceattend/faceattend/internal/engine"
	"github.com/spf13/cobra"
)

func newCaptureCommand(opts *options) *cobra.Command {
	var (
		record bool
		save   string
		device string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a camera frame and score it for liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			camCfg := opts.config.Camera
			if device != "" {
				camCfg.Device = device
			}

			e, err := engine.Open(cmd.Context(), opts.config, opts.logger, record)
			if err != nil {
				return err
			}
			defer func() {
				if err := e.Close(); err != nil {
					opts.logger.Errorf("Failed to close engine: %v", err)
				}
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Initializing camera...")

			cam, err := camera.Open(camCfg, opts.logger)
			if err != nil {
				return err
			}
			defer func() { _ = cam.Close() }()

			img, err := cam.CaptureImage(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to capture frame: %w", err)
			}

			if save != "" {
				if err := saveJPEG(save, img); err != nil {
					return err
				}
				fmt.Fprintf(out, "Frame saved to %s\n", save)
			}

			result, err := e.CheckImage(cmd.Context(), "camera:"+camCfg.Device, img)
			if err != nil {
				return err
			}

			resp := api.NewCheckResponse(result)
			printCheck(out, &resp)

			if !resp.IsLive {
				return fmt.Errorf("liveness check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&record, "record", false, "Record the result in the check history")
	cmd.Flags().StringVar(&save, "save", "", "Write the captured frame to this JPEG file")
	cmd.Flags().StringVar(&device, "device", "", "Camera device (default from config)")

	return cmd
}

// printCheck writes a human-readable report of one check
func printCheck(w io.Writer, resp *api.CheckResponse) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Liveness Result")
	fmt.Fprintln(w, "===============")

	if resp.Skipped {
		fmt.Fprintln(w, "Liveness detection disabled, check skipped")
		return
	}

	fmt.Fprintf(w, "Live: %v\n", resp.IsLive)
	if resp.LivenessScore != nil {
		fmt.Fprintf(w, "Score: %.3f\n", *resp.LivenessScore)
	}
	for _, reason := range resp.Reasons {
		fmt.Fprintf(w, "  - %s\n", reason)
	}

	if f := resp.Features; f != nil {
		fmt.Fprintln(w, "Features:")
		fmt.Fprintf(w, "  texture variance:       %.3f\n", f.TextureVariance)
		fmt.Fprintf(w, "  color std:              %.3f\n", f.ColorStd)
		fmt.Fprintf(w, "  edge density:           %.4f\n", f.EdgeDensity)
		fmt.Fprintf(w, "  high frequency energy:  %.3f\n", f.HighFreqEnergy)
		fmt.Fprintf(w, "  histogram entropy:      %.3f\n", f.HistEntropy)
		fmt.Fprintf(w, "  saturation mean/std:    %.3f / %.3f\n", f.SaturationMean, f.SaturationStd)
		fmt.Fprintf(w, "  illumination gradient:  %.3f\n", f.IlluminationGradient)
	}
	fmt.Fprintf(w, "Processing time: %dms\n", resp.ProcessingTimeMS)

	if resp.IsLive {
		fmt.Fprintln(w, "\n✓ Live face detected")
	} else {
		fmt.Fprintln(w, "\n✗ Not a live face")
	}
}

func saveJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return f.Close()
}
