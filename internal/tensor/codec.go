package tensor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/akash-ravi/pomegranate-app/internal/faults"
)

// baselineFormat is the only encoding decoded directly; everything else is
// re-encoded into it first.
const baselineFormat = "jpeg"

const reencodeQuality = 100

// Codec turns source images into canonical classifier tensors.
type Codec struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewCodec creates a codec reading source files from fs.
func NewCodec(fs afero.Fs, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{fs: fs, logger: logger}
}

// EncodeFile reads the image at uri and encodes it.
func (c *Codec) EncodeFile(ctx context.Context, uri string) (*Canonical, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(c.fs, uri)
	if err != nil {
		return nil, faults.Wrap(faults.KindIO, "read image", eris.Wrapf(err, "read %s", uri))
	}
	return c.Encode(data)
}

// Encode decodes raw image bytes into a canonical tensor.
func (c *Codec) Encode(data []byte) (*Canonical, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Wrap(faults.KindDecode, "decode image", err)
	}
	bounds := img.Bounds()
	c.logger.Debug("image decoded",
		"format", format,
		"width", bounds.Dx(),
		"height", bounds.Dy(),
	)

	if _, err := channelCount(img.ColorModel()); err != nil {
		return nil, err
	}
	img = dropAlpha(img)

	if format != baselineFormat {
		img, err = reencode(img)
		if err != nil {
			return nil, err
		}
	}
	return EncodeImage(img)
}

// EncodeImage converts an already decoded image. It resizes to the canonical
// geometry with nearest-neighbor sampling, stretching rather than cropping.
func EncodeImage(img image.Image) (*Canonical, error) {
	if img == nil {
		return nil, faults.New(faults.KindDecode, "encode image", "image is nil")
	}
	if _, err := channelCount(img.ColorModel()); err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, faults.New(faults.KindDecode, "encode image", "empty image bounds %v", b)
	}

	img = dropAlpha(img)

	resized := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.NearestNeighbor.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	data := make([]float32, Elements(CanonicalShape))
	for p := 0; p < Width*Height; p++ {
		src := resized.Pix[p*4 : p*4+3]
		dst := data[p*Channels : p*Channels+Channels]
		for c := range dst {
			dst[c] = float32(src[c]) / 255.0
		}
	}

	shape := make([]int64, len(CanonicalShape))
	copy(shape, CanonicalShape)
	return &Canonical{Shape: shape, Data: data}, nil
}

func reencode(img image.Image) (image.Image, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: reencodeQuality}); err != nil {
		return nil, faults.Wrap(faults.KindDecode, "re-encode image", err)
	}
	out, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, faults.Wrap(faults.KindDecode, "decode re-encoded image", err)
	}
	return out, nil
}

// dropAlpha returns img with every pixel made opaque while keeping its
// straight color. Compositing a translucent pixel would darken it instead.
func dropAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := straightColor(img, x, y)
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

func straightColor(img image.Image, x, y int) color.NRGBA {
	switch m := img.(type) {
	case *image.NRGBA:
		return m.NRGBAAt(x, y)
	case *image.NRGBA64:
		c := m.NRGBA64At(x, y)
		return color.NRGBA{R: uint8(c.R >> 8), G: uint8(c.G >> 8), B: uint8(c.B >> 8), A: uint8(c.A >> 8)}
	case *image.NYCbCrA:
		c := m.NYCbCrAAt(x, y)
		r, g, b := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
		return color.NRGBA{R: r, G: g, B: b, A: c.A}
	}
	// Premultiplied sources lose the color of fully transparent pixels.
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

// channelCount reports how many channels a color model carries before
// reduction to RGB. Models without color information are rejected.
func channelCount(model color.Model) (int, error) {
	if _, ok := model.(color.Palette); ok {
		return 3, nil
	}
	switch model {
	case color.GrayModel, color.Gray16Model:
		return 1, nil
	case color.YCbCrModel, color.CMYKModel:
		return 3, nil
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.NYCbCrAModel:
		return 4, nil
	case color.AlphaModel, color.Alpha16Model:
		return 0, faults.New(faults.KindFormat, "channel layout", "alpha-only image has no color channels")
	}
	return 0, faults.New(faults.KindFormat, "channel layout", "unsupported color model %T", model)
}
