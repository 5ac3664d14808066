// Package imageproc turns an accepted artifact into its upload-ready file.
package imageproc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"stockgen/internal/domain"
	"stockgen/internal/domain/jsoncfg"
	"stockgen/internal/infra"
)

const (
	DefaultOutputDir = "toupload"
	sharpenSigma     = 5
	// saturationBoost is a percentage on top of the original saturation (x1.4).
	saturationBoost = 40
	trimThreshold   = 50
)

// BackgroundRemover cuts the background out of an encoded image.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, image []byte) ([]byte, error)
}

// Store is the file access the pipeline needs.
type Store interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) (string, error)
	Remove(path string) error
}

type Options struct {
	Remover   BackgroundRemover
	OutputDir string
	Logger    *infra.Logger
}

// Pipeline applies the configured transform steps in a fixed order: background
// removal, trim, sharpen and saturation, then encoding.
type Pipeline struct {
	store     Store
	remover   BackgroundRemover
	outputDir string
	logger    *infra.Logger
}

func NewPipeline(store Store, opts Options) *Pipeline {
	dir := strings.Trim(strings.TrimSpace(opts.OutputDir), "/")
	if dir == "" {
		dir = DefaultOutputDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Pipeline{store: store, remover: opts.Remover, outputDir: dir, logger: logger}
}

// Process writes {outputDir}/{name}.{jpg|png} from the file at inputPath and
// deletes the input. It returns the output path.
func (p *Pipeline) Process(ctx context.Context, inputPath, name string, opts jsoncfg.PipelineOptions) (string, error) {
	data, err := p.store.Read(ctx, inputPath)
	if err != nil {
		return "", fmt.Errorf("imageproc: %w", err)
	}
	log := p.logger.With().Str("input", inputPath).Str("name", name).Logger()

	removed := false
	if opts.RemoveBg {
		if p.remover == nil {
			log.Warn().Msg("imageproc: background removal requested without a remover")
		} else if cut, err := p.remover.RemoveBackground(ctx, data); err != nil {
			log.Warn().Err(err).Msg("imageproc: background removal failed, using original")
		} else {
			data = cut
			removed = true
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("imageproc: decode %s: %w: %w", inputPath, domain.ErrResource, err)
	}

	if opts.TrimTransparentBackground {
		if removed && !opts.ConvertToJpg {
			img = Trim(img, trimThreshold)
		} else {
			log.Warn().
				Bool("background_removed", removed).
				Bool("convert_to_jpg", opts.ConvertToJpg).
				Msg("imageproc: trim skipped, it needs a removed background and png output")
		}
	}

	if opts.ImageConvert {
		img = Enhance(img)
	}

	var out bytes.Buffer
	if opts.ConvertToJpg {
		flat := Flatten(img, backgroundColor(opts.JpgBackground))
		err = imaging.Encode(&out, flat, imaging.JPEG, imaging.JPEGQuality(opts.JpgQuality))
	} else {
		err = imaging.Encode(&out, img, imaging.PNG, imaging.PNGCompressionLevel(pngCompression(opts.PngQuality)))
	}
	if err != nil {
		return "", fmt.Errorf("imageproc: encode %s: %w", name, err)
	}

	key := fmt.Sprintf("%s/%s%s", p.outputDir, name, opts.OutputExtension())
	outPath, err := p.store.Write(ctx, key, out.Bytes())
	if err != nil {
		return "", fmt.Errorf("imageproc: %w", err)
	}
	if err := p.store.Remove(inputPath); err != nil {
		log.Error().Err(err).Msg("imageproc: failed to delete input")
	}
	log.Info().Str("output", outPath).Bool("background_removed", removed).Msg("imageproc: image processed")
	return outPath, nil
}

// Enhance sharpens the image and boosts its saturation.
func Enhance(img image.Image) *image.NRGBA {
	return imaging.AdjustSaturation(imaging.Sharpen(img, sharpenSigma), saturationBoost)
}

// Flatten composites img over an opaque background.
func Flatten(img image.Image, bg color.Color) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// Trim crops borders that match the top-left pixel within threshold on every
// channel (0-255 scale). An image that is entirely border is returned as is.
func Trim(img image.Image, threshold int) image.Image {
	src := imaging.Clone(img)
	b := src.Bounds()
	if b.Empty() {
		return src
	}
	ref := src.NRGBAAt(b.Min.X, b.Min.Y)
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if similar(src.NRGBAAt(x, y), ref, threshold) {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX || maxY < minY {
		return src
	}
	return imaging.Crop(src, image.Rect(minX, minY, maxX+1, maxY+1))
}

func similar(a, b color.NRGBA, threshold int) bool {
	// Fully transparent pixels match regardless of their color channels.
	if a.A == 0 && b.A == 0 {
		return true
	}
	return absDiff(a.R, b.R) <= threshold && absDiff(a.G, b.G) <= threshold &&
		absDiff(a.B, b.B) <= threshold && absDiff(a.A, b.A) <= threshold
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func backgroundColor(name string) color.Color {
	if strings.EqualFold(strings.TrimSpace(name), "black") {
		return color.Black
	}
	return color.White
}

// pngCompression maps the 1-100 quality knob onto zlib effort: high quality
// favours speed, low quality favours size.
func pngCompression(quality int) png.CompressionLevel {
	switch {
	case quality >= 95:
		return png.BestSpeed
	case quality < 50:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}
