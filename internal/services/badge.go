package services

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"regexp"
	"sync"
)

// Chrome receives the browser-chrome state derived from the unread count:
// the document title and the favicon bitmap. A nil icon means the base icon.
type Chrome interface {
	Apply(title string, iconPNG []byte)
}

var titlePrefix = regexp.MustCompile(`^\(\d+\) `)

// BadgeService propagates the aggregate unread count into the tab chrome.
// Icon composition runs asynchronously, so every Set call is stamped with a
// generation; a completion whose generation is no longer the newest is
// dropped. That keeps a slow "(3)" composition from overwriting a reset that
// already happened.
type BadgeService struct {
	chrome    Chrome
	baseTitle string
	baseIcon  image.Image

	mu    sync.Mutex
	gen   uint64
	title string

	inflight sync.WaitGroup
}

func NewBadgeService(chrome Chrome, baseTitle string, iconPNG []byte) *BadgeService {
	icon, err := png.Decode(bytes.NewReader(iconPNG))
	if err != nil {
		log.Printf("badge: favicon decode failed, using fallback icon: %v", err)
		icon = fallbackIcon()
	}
	return &BadgeService{
		chrome:    chrome,
		baseTitle: baseTitle,
		baseIcon:  icon,
		title:     baseTitle,
	}
}

// Set propagates a new aggregate unread count. Idempotent: repeated calls
// with the same count converge on the same title and icon.
func (b *BadgeService) Set(count int) {
	b.mu.Lock()
	b.gen++
	gen := b.gen

	clean := titlePrefix.ReplaceAllString(b.title, "")
	if count > 0 {
		b.title = fmt.Sprintf("(%d) %s", count, clean)
	} else {
		b.title = clean
	}
	title := b.title

	if count <= 0 {
		b.chrome.Apply(title, nil)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		icon, err := composeBadgeIcon(b.baseIcon)
		if err != nil {
			log.Printf("badge: icon composition failed: %v", err)
			return
		}
		b.mu.Lock()
		if gen == b.gen {
			b.chrome.Apply(title, icon)
		}
		b.mu.Unlock()
	}()
}

// Close restores the base title and icon unconditionally and invalidates any
// composition still in flight.
func (b *BadgeService) Close() {
	b.mu.Lock()
	b.gen++
	b.title = b.baseTitle
	b.chrome.Apply(b.baseTitle, nil)
	b.mu.Unlock()
}

const (
	iconSize  = 32
	dotRadius = 7
	ringWidth = 2
)

// composeBadgeIcon draws the base icon at 32x32 with a red dot in the top
// right corner and a white ring around it.
func composeBadgeIcon(base image.Image) ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	drawScaled(dst, base)

	cx := float64(iconSize - dotRadius - 1)
	cy := float64(dotRadius + 1)
	red := color.RGBA{R: 0xFF, A: 0xFF}
	white := color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}

	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			d := dx*dx + dy*dy
			switch {
			case d <= dotRadius*dotRadius:
				dst.SetRGBA(x, y, red)
			case d <= (dotRadius+ringWidth)*(dotRadius+ringWidth):
				dst.SetRGBA(x, y, white)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawScaled paints src over the whole of dst with nearest-neighbor scaling.
func drawScaled(dst *image.RGBA, src image.Image) {
	sb := src.Bounds()
	db := dst.Bounds()
	if sb.Dx() == db.Dx() && sb.Dy() == db.Dy() {
		draw.Draw(dst, db, src, sb.Min, draw.Src)
		return
	}
	for y := 0; y < db.Dy(); y++ {
		sy := sb.Min.Y + y*sb.Dy()/db.Dy()
		for x := 0; x < db.Dx(); x++ {
			sx := sb.Min.X + x*sb.Dx()/db.Dx()
			dst.Set(db.Min.X+x, db.Min.Y+y, src.At(sx, sy))
		}
	}
}

// fallbackIcon is used when no favicon asset is available.
func fallbackIcon() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 0x21, G: 0x96, B: 0xF3, A: 0xFF}), image.Point{}, draw.Src)
	return img
}
