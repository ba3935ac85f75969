package imgrec

import (
	"bytes"
	"os"
	"path"
	"testing"

	"github.com/astrogo/fitsio"

	"github.com/cmss-ltu/semontage/sem"
)

func TestTileName(t *testing.T) {
	r := &Recorder{Base: "sample"}
	cases := []struct {
		seq      int
		detector string
		want     string
	}{
		{0, "", "sample_0000.fits"},
		{14, "", "sample_0014.fits"},
		{3, "se", "sample_0003_se.fits"},
		{42, "bse", "sample_0042_bse.fits"},
	}
	for _, tc := range cases {
		if got := r.TileName(tc.seq, tc.detector); got != tc.want {
			t.Errorf("TileName(%d, %q): expected %s, got %s", tc.seq, tc.detector, got, tc.want)
		}
	}
}

func TestSaveTile(t *testing.T) {
	r := &Recorder{Root: path.Join(t.TempDir(), "out"), Base: "sample"}
	frame := sem.Frame{Width: 4, Height: 2}
	frame.Pix = []uint16{0, 1, 2, 3, 4, 5, 6, 7}
	fn, err := r.SaveTile(frame, 7, "se", []fitsio.Card{{Name: "MAG", Value: 1000.0}})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if path.Base(fn) != "sample_0007_se.fits" {
		t.Errorf("unexpected filename %s", fn)
	}
	buf, err := os.ReadFile(fn)
	if err != nil {
		t.Fatalf("could not read back %s: %v", fn, err)
	}
	// one header block and one data block at minimum
	if len(buf) < 2*2880 {
		t.Errorf("implausibly small FITS file, %d bytes", len(buf))
	}
	if !bytes.HasPrefix(buf, []byte("SIMPLE")) {
		t.Errorf("file does not start with a FITS header, got % x", buf[:8])
	}
}

func TestSaveTileBadRoot(t *testing.T) {
	dir := t.TempDir()
	// a file where the output folder should be
	if err := os.WriteFile(path.Join(dir, "occupied"), []byte("x"), 0666); err != nil {
		t.Fatal(err)
	}
	r := &Recorder{Root: path.Join(dir, "occupied"), Base: "sample"}
	if _, err := r.SaveTile(sem.Frame{Width: 1, Height: 1, Pix: []uint16{0}}, 0, "", nil); err == nil {
		t.Error("expected an error for an unusable output folder")
	}
}
