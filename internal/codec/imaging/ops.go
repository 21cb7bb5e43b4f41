package imaging

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// resize scales src to width. A zero height keeps the aspect ratio.
func resize(src image.Image, width, height int) image.Image {
	b := src.Bounds()
	if height <= 0 {
		height = (b.Dy()*width + b.Dx()/2) / b.Dx()
		if height < 1 {
			height = 1
		}
	}
	if width == b.Dx() && height == b.Dy() {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// rotate turns src clockwise by a multiple of 90 degrees.
func rotate(src image.Image, degrees int) image.Image {
	turns := ((degrees/90)%4 + 4) % 4
	if turns == 0 {
		return src
	}
	in := toNRGBA(src)
	w, h := in.Bounds().Dx(), in.Bounds().Dy()
	var out *image.NRGBA
	if turns == 2 {
		out = image.NewNRGBA(image.Rect(0, 0, w, h))
	} else {
		out = image.NewNRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := in.NRGBAAt(x, y)
			switch turns {
			case 1:
				out.SetNRGBA(h-1-y, x, c)
			case 2:
				out.SetNRGBA(w-1-x, h-1-y, c)
			case 3:
				out.SetNRGBA(y, w-1-x, c)
			}
		}
	}
	return out
}

// flipVertical mirrors src top to bottom.
func flipVertical(src image.Image) image.Image {
	in := toNRGBA(src)
	w, h := in.Bounds().Dx(), in.Bounds().Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+w*4], in.Pix[(h-1-y)*in.Stride:(h-1-y)*in.Stride+w*4])
	}
	return out
}

// flipHorizontal mirrors src left to right.
func flipHorizontal(src image.Image) image.Image {
	in := toNRGBA(src)
	w, h := in.Bounds().Dx(), in.Bounds().Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetNRGBA(w-1-x, y, in.NRGBAAt(x, y))
		}
	}
	return out
}

func grayscale(src image.Image) image.Image {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	return out
}
