package document

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"sort"

	"github.com/devbush/docscribe/internal/ports"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/tiff"
)

// ExtractPageImages pulls the embedded scan images out of a PDF.
// Thumbnails are skipped. CMYK images, which pdfcpu emits as TIFF, are
// re-encoded to PNG.
func ExtractPageImages(data []byte) ([]ports.PageImage, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	type extracted struct {
		obj int
		img ports.PageImage
	}
	var out []extracted

	err := api.ExtractImages(bytes.NewReader(data), nil, func(img model.Image, _ bool, _ int) error {
		if img.Thumb {
			return nil
		}
		mimeType, body, err := pageImageBytes(img.FileType, img)
		if err != nil {
			return fmt.Errorf("page %d image %s: %w", img.PageNr, img.Name, err)
		}
		if mimeType == "" {
			return nil
		}
		out = append(out, extracted{
			obj: img.ObjNr,
			img: ports.PageImage{Page: img.PageNr, MIMEType: mimeType, Data: body},
		})
		return nil
	}, conf)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].img.Page != out[j].img.Page {
			return out[i].img.Page < out[j].img.Page
		}
		return out[i].obj < out[j].obj
	})

	images := make([]ports.PageImage, len(out))
	for i, e := range out {
		images[i] = e.img
	}
	return images, nil
}

// pageImageBytes returns an empty MIME type for formats that are dropped
func pageImageBytes(fileType string, r io.Reader) (string, []byte, error) {
	switch fileType {
	case "jpg", "jpeg":
		body, err := io.ReadAll(r)
		return "image/jpeg", body, err
	case "png":
		body, err := io.ReadAll(r)
		return "image/png", body, err
	case "tif", "tiff":
		body, err := tiffToPNG(r)
		return "image/png", body, err
	default:
		return "", nil, nil
	}
}

func tiffToPNG(r io.Reader) ([]byte, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
