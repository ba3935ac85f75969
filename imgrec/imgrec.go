// Package imgrec persists captured montage tiles to disk as FITS files with
// deterministic filenames derived from the base name, the tile's sequence
// index, and the detector identifier.
package imgrec

import (
	"fmt"
	"os"
	"path"

	"github.com/astrogo/fitsio"

	"github.com/cmss-ltu/semontage/sem"
)

// Recorder writes tile images under Root.  It is not thread safe; the
// acquisition loop is strictly sequential.
type Recorder struct {
	// Root is the output folder
	Root string

	// Base is the base filename, e.g. "sample7" => sample7_0003_se.fits
	Base string
}

// TileName returns the filename for a tile.  The detector suffix is omitted
// when detector is empty (single-detector capture).
func (r *Recorder) TileName(seq int, detector string) string {
	if detector == "" {
		return fmt.Sprintf("%s_%04d.fits", r.Base, seq)
	}
	return fmt.Sprintf("%s_%04d_%s.fits", r.Base, seq, detector)
}

// SaveTile writes one frame to Root/TileName(seq, detector) and returns the
// full path written.
func (r *Recorder) SaveTile(frame sem.Frame, seq int, detector string, cards []fitsio.Card) (string, error) {
	if err := os.MkdirAll(r.Root, 0777); err != nil {
		return "", err
	}
	fn := path.Join(r.Root, r.TileName(seq, detector))
	fid, err := os.Create(fn)
	if err != nil {
		return fn, err
	}
	defer fid.Close()
	if err := writeFits(fid, cards, frame); err != nil {
		return fn, err
	}
	return fn, nil
}

// writeFits streams a 16-bit FITS image.  Unsigned pixel data is stored as
// offset signed integers per the FITS convention, BZERO 32768.
func writeFits(fid *os.File, cards []fitsio.Card, frame sem.Frame) error {
	cards = append(cards,
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0})
	fits, err := fitsio.Create(fid)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{frame.Width, frame.Height})
	defer im.Close()
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	ints := make([]int16, len(frame.Pix))
	for i, v := range frame.Pix {
		ints[i] = int16(v - 32768)
	}
	if err := im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}
