package aax

import (
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
)

// FileType is the container variant, which decides where the key material comes from.
type FileType int

const (
	// FileTypeAAX files carry an ADRM envelope unlocked with activation bytes.
	FileTypeAAX FileType = iota
	// FileTypeAAXC files are decrypted with a key and IV delivered separately.
	FileTypeAAXC
	// FileTypeDash is the segmented streaming variant, which is not supported.
	FileTypeDash
)

func (t FileType) String() string {
	switch t {
	case FileTypeAAX:
		return "aax"
	case FileTypeAAXC:
		return "aaxc"
	case FileTypeDash:
		return "dash"
	default:
		return fmt.Sprintf("FileType(%d)", int(t))
	}
}

// DetectFileType guesses the variant from the major brand of the leading ftyp box.
// The position of r is restored before returning.
func DetectFileType(r io.ReadSeeker) (_ FileType, err error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("get stream position: %w", err)
	}
	defer func() {
		if _, serr := r.Seek(start, io.SeekStart); serr != nil && err == nil {
			err = fmt.Errorf("restore stream position: %w", serr)
		}
	}()

	if _, err = r.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek to start: %w", err)
	}
	hdr, err := ReadBox(r)
	if err != nil {
		return 0, fmt.Errorf("read first box: %w", err)
	}
	switch hdr.Type {
	case TypeFtyp:
	case BoxType{'s', 't', 'y', 'p'}:
		return FileTypeDash, nil
	default:
		return 0, fmt.Errorf("%w: first box is %s instead of ftyp", ErrMissingBox, hdr.Type)
	}

	if _, err = r.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek to start: %w", err)
	}
	box, err := mp4.DecodeBox(0, r)
	if err != nil {
		return 0, fmt.Errorf("decode box: %w", err)
	}
	ftyp, ok := box.(*mp4.FtypBox)
	if !ok {
		return 0, fmt.Errorf("box is a %s instead of an ftyp", box.Type())
	}

	switch ftyp.MajorBrand() {
	case "aax ":
		return FileTypeAAX, nil
	case "aaxc":
		return FileTypeAAXC, nil
	case "dash":
		return FileTypeDash, nil
	default:
		return 0, fmt.Errorf("%w: major brand %q", ErrUnsupportedFormat, ftyp.MajorBrand())
	}
}
