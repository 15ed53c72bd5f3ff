package archive

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"

	"github.com/akash-ravi/pomegranate-app/internal/faults"
)

// DefaultThumbnailSize matches the preview size of the picker.
const DefaultThumbnailSize = 224

// Thumbnail renders a JPEG preview of an archived image that fits inside a
// size×size box while keeping the aspect ratio.
func Thumbnail(fsys afero.Fs, path string, size uint) ([]byte, error) {
	if size == 0 {
		size = DefaultThumbnailSize
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, faults.Wrap(faults.KindIO, "thumbnail", eris.Wrapf(err, "open %s", path))
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, faults.Wrap(faults.KindDecode, "thumbnail", err)
	}

	thumb := resize.Thumbnail(size, size, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return nil, faults.Wrap(faults.KindIO, "thumbnail", eris.Wrap(err, "encode thumbnail"))
	}
	return buf.Bytes(), nil
}
