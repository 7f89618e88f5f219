package ogg_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/glizzus/opusify/internal/ogg"
)

func TestLacingValues(t *testing.T) {
	tc := []struct {
		length    int
		wantCount int
		wantLast  byte
	}{
		{0, 1, 0},
		{1, 1, 1},
		{254, 1, 254},
		{255, 2, 0},
		{256, 2, 1},
		{510, 3, 0},
		{1000, 4, 235},
		{65025, 256, 0},
	}

	for _, test := range tc {
		values := ogg.LacingValues(test.length)
		if len(values) != test.wantCount {
			t.Errorf("LacingValues(%d): expected %d values, got %d", test.length, test.wantCount, len(values))
			continue
		}
		sum := 0
		for i, v := range values {
			sum += int(v)
			if i < len(values)-1 && v != 255 {
				t.Errorf("LacingValues(%d): value %d is %d, expected 255", test.length, i, v)
			}
		}
		if sum != test.length {
			t.Errorf("LacingValues(%d): values sum to %d", test.length, sum)
		}
		if last := values[len(values)-1]; last != test.wantLast {
			t.Errorf("LacingValues(%d): expected terminator %d, got %d", test.length, test.wantLast, last)
		}
	}
}

func TestChecksumTable(t *testing.T) {
	// A single set bit shifted through the register yields the polynomial.
	if got := ogg.Checksum([]byte{0x01}); got != 0x04c11db7 {
		t.Errorf("expected Checksum([0x01]) = 0x04c11db7, got %#08x", got)
	}
	if got := ogg.Checksum(nil); got != 0 {
		t.Errorf("expected zero checksum for empty input, got %#08x", got)
	}
}

func TestPageBytesChecksum(t *testing.T) {
	p := &ogg.Page{
		Flags:    ogg.FlagFirstPage,
		Granule:  0,
		Serial:   12345,
		Sequence: 0,
		Lacing:   []byte{19},
		Payload:  []byte("OpusHead\x01\x01\x38\x01\x80\xbb\x00\x00\x00\x00\x00"),
	}
	b := p.Bytes()

	zeroed := bytes.Clone(b)
	copy(zeroed[22:26], []byte{0, 0, 0, 0})
	if got := ogg.Checksum(zeroed); got != p.Checksum {
		t.Errorf("checksum over zeroed field is %#08x, page carries %#08x", got, p.Checksum)
	}

	read, err := ogg.ReadPage(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("ReadPage returned error: %v", err)
	}
	if diff := cmp.Diff(p, read); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}

	for _, offset := range []int{5, 6, 14, 18, 27, len(b) - 1} {
		corrupt := bytes.Clone(b)
		corrupt[offset] ^= 0x10
		if _, err := ogg.ReadPage(bytes.NewReader(corrupt)); !errors.Is(err, ogg.ErrChecksum) {
			t.Errorf("flipping byte %d: expected ErrChecksum, got %v", offset, err)
		}
	}
}

func TestReadPageErrors(t *testing.T) {
	valid := (&ogg.Page{Lacing: []byte{3}, Payload: []byte("abc")}).Bytes()

	badVersion := bytes.Clone(valid)
	badVersion[4] = 1

	tc := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"empty", nil, io.EOF},
		{"bad capture pattern", append([]byte("OggX"), valid[4:]...), ogg.ErrCapturePattern},
		{"bad version", badVersion, ogg.ErrVersion},
		{"truncated header", valid[:10], io.ErrUnexpectedEOF},
		{"truncated payload", valid[:len(valid)-1], io.ErrUnexpectedEOF},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			_, err := ogg.ReadPage(bytes.NewReader(test.input))
			if !errors.Is(err, test.wantErr) {
				t.Errorf("expected %v, got %v", test.wantErr, err)
			}
		})
	}
}

func TestPacketLengths(t *testing.T) {
	tc := []struct {
		name         string
		lacing       []byte
		wantLengths  []int
		wantComplete bool
	}{
		{"single packet", []byte{19}, []int{19}, true},
		{"several packets", []byte{100, 255, 3, 0}, []int{100, 258, 0}, true},
		{"trailing piece", []byte{10, 255, 255}, []int{10, 510}, false},
		{"empty page", nil, nil, true},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			p := &ogg.Page{Lacing: test.lacing}
			lengths, complete := p.PacketLengths()
			if diff := cmp.Diff(test.wantLengths, lengths); diff != "" {
				t.Errorf("lengths mismatch (-want +got):\n%s", diff)
			}
			if complete != test.wantComplete {
				t.Errorf("expected complete=%v, got %v", test.wantComplete, complete)
			}
		})
	}
}
