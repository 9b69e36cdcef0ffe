package drill

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
)

// MinBlobArea is the smallest region, in pixels, reported as a blob.
const MinBlobArea = 10

// BlobVision finds blobs with a global Otsu threshold and 8-connected
// labelling. It cannot match boards.
type BlobVision struct{}

var _ Vision = BlobVision{}

var red = color.RGBA{R: 255, A: 255}

func (BlobVision) SolderMask(ctx context.Context, imagePath, annotatedPath string) ([]Blob, error) {
	img, err := loadImage(imagePath)
	if err != nil {
		return nil, err
	}
	gray := toGray(img)
	t := otsu(gray)

	// solder pads are the dark regions
	mask := make([]bool, len(gray.Pix))
	for i, p := range gray.Pix {
		mask[i] = p <= t
	}
	blobs, err := findBlobs(ctx, mask, gray.Rect.Dx(), gray.Rect.Dy())
	if err != nil {
		return nil, err
	}

	annotated := image.NewRGBA(img.Bounds())
	draw.Draw(annotated, annotated.Bounds(), img, img.Bounds().Min, draw.Src)
	for _, b := range blobs {
		circle(annotated, b.X+float64(img.Bounds().Min.X), b.Y+float64(img.Bounds().Min.Y), 2, red)
	}
	if err := saveImage(annotatedPath, annotated); err != nil {
		return nil, err
	}
	return blobs, nil
}

func (BlobVision) MatchBoard(context.Context, BoardRequest) (BoardMatch, error) {
	return BoardMatch{}, fmt.Errorf("board matching: %w", errors.ErrUnsupported)
}

func (BlobVision) Difference(ctx context.Context, prePath, postPath, diffPath string) ([]Blob, error) {
	pre, err := loadImage(prePath)
	if err != nil {
		return nil, err
	}
	post, err := loadImage(postPath)
	if err != nil {
		return nil, err
	}
	if pre.Bounds().Size() != post.Bounds().Size() {
		return nil, fmt.Errorf("image sizes differ: %v and %v", pre.Bounds().Size(), post.Bounds().Size())
	}

	a, b := toGray(pre), toGray(post)
	diff := image.NewGray(image.Rect(0, 0, a.Rect.Dx(), a.Rect.Dy()))
	var peak uint8
	for i := range a.Pix {
		d := int(b.Pix[i]) - int(a.Pix[i])
		if d < 0 {
			d = -d
		}
		diff.Pix[i] = uint8(d)
		if uint8(d) > peak {
			peak = uint8(d)
		}
	}

	mask := make([]bool, len(diff.Pix))
	if peak > 0 {
		t := otsu(diff)
		for i, p := range diff.Pix {
			mask[i] = p > t
		}
	}

	binary := image.NewGray(diff.Rect)
	for i, on := range mask {
		if on {
			binary.Pix[i] = 255
		}
	}
	if err := saveImage(diffPath, binary); err != nil {
		return nil, err
	}
	return findBlobs(ctx, mask, diff.Rect.Dx(), diff.Rect.Dy())
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// saveImage encodes by extension: .jpg as JPEG, anything else as PNG.
func saveImage(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("save image: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".jpg") {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(f, img)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// toGray returns a zero-origin grayscale copy of img.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// otsu returns the threshold maximizing between-class variance.
func otsu(img *image.Gray) uint8 {
	var hist [256]int
	for _, p := range img.Pix {
		hist[p]++
	}
	total := len(img.Pix)

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var (
		sumB, best float64
		weightB    int
		threshold  uint8
	)
	for i, n := range hist {
		weightB += n
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(i * n)
		meanB := sumB / float64(weightB)
		meanF := (sum - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			threshold = uint8(i)
		}
	}
	return threshold
}

// findBlobs labels 8-connected foreground regions in a w x h mask. Regions
// smaller than MinBlobArea or covering more than half the image are dropped.
// Blobs are ordered by first pixel in raster order.
func findBlobs(ctx context.Context, mask []bool, w, h int) ([]Blob, error) {
	seen := make([]bool, len(mask))
	var (
		blobs []Blob
		stack []int
	)
	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		if start%w == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var sumX, sumY, area int
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			sumX += x
			sumY += y
			area++

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if mask[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}

		if area < MinBlobArea || area > w*h/2 {
			continue
		}
		blobs = append(blobs, Blob{
			X:    float64(sumX) / float64(area),
			Y:    float64(sumY) / float64(area),
			Area: area,
		})
	}
	return blobs, nil
}

// circle draws an outline of radius r centred on (cx, cy).
func circle(img draw.Image, cx, cy float64, r int, c color.Color) {
	x0, y0 := int(cx+0.5), int(cy+0.5)
	x, y, e := r, 0, 1-r
	for x >= y {
		for _, p := range [][2]int{
			{x, y}, {y, x}, {-y, x}, {-x, y},
			{-x, -y}, {-y, -x}, {y, -x}, {x, -y},
		} {
			pt := image.Pt(x0+p[0], y0+p[1])
			if pt.In(img.Bounds()) {
				img.Set(pt.X, pt.Y, c)
			}
		}
		y++
		if e < 0 {
			e += 2*y + 1
		} else {
			x--
			e += 2*(y-x) + 1
		}
	}
}
