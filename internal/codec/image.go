package codec

import (
	"image"

	"golang.org/x/image/draw"
)

// FromImage converts any image.Image into a 4-channel non-premultiplied
// buffer.
func FromImage(img image.Image) Pixels {
	b := img.Bounds()

	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}

	return Pixels{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 4,
		Pix:      append([]uint8(nil), nrgba.Pix[:b.Dx()*b.Dy()*4]...),
	}
}

// ToImage wraps p in an opaque *image.NRGBA. 4-channel buffers keep their
// alpha.
func ToImage(p Pixels) (*image.NRGBA, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	for i := 0; i < p.Width*p.Height; i++ {
		o := img.Pix[i*4 : i*4+4]
		s := p.Pix[i*p.Channels:]
		o[0], o[1], o[2] = s[0], s[1], s[2]
		if p.Channels == 4 {
			o[3] = s[3]
		} else {
			o[3] = 0xff
		}
	}

	return img, nil
}

// Scale resizes an image with the Catmull-Rom kernel. It is meant for
// previews; tensor resizing goes through ResizeBicubic.
func Scale(img image.Image, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
