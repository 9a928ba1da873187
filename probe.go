package aax

import (
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
)

// BoxSummary is one top-level box of a container.
type BoxSummary struct {
	Type   string
	Offset uint64
	Size   uint64
}

// Layout is the top-level structure of a container.
type Layout struct {
	MajorBrand       string
	MinorVersion     uint32
	CompatibleBrands []string
	Boxes            []BoxSummary
}

// FastStart reports whether moov comes before mdat.
func (l *Layout) FastStart() bool {
	for _, b := range l.Boxes {
		switch b.Type {
		case TypeMoov.String():
			return true
		case TypeMdat.String():
			return false
		}
	}
	return false
}

// Types returns the top-level box types in file order.
func (l *Layout) Types() []string {
	types := make([]string, 0, len(l.Boxes))
	for _, b := range l.Boxes {
		types = append(types, b.Type)
	}
	return types
}

// Probe lists the top-level boxes of r and the brands of its ftyp.
func Probe(r io.ReadSeeker) (*Layout, error) {
	l := &Layout{}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to start: %w", err)
	}
	_, err := gomp4.ReadBoxStructure(r, func(h *gomp4.ReadHandle) (interface{}, error) {
		l.Boxes = append(l.Boxes, BoxSummary{
			Type:   h.BoxInfo.Type.String(),
			Offset: h.BoxInfo.Offset,
			Size:   h.BoxInfo.Size,
		})

		if h.BoxInfo.Type != gomp4.BoxTypeFtyp() {
			return nil, nil
		}

		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, fmt.Errorf("read ftyp payload: %w", err)
		}
		ftyp, ok := box.(*gomp4.Ftyp)
		if !ok {
			return nil, fmt.Errorf("unexpected ftyp payload %T", box)
		}

		l.MajorBrand = string(ftyp.MajorBrand[:])
		l.MinorVersion = ftyp.MinorVersion
		for _, c := range ftyp.CompatibleBrands {
			l.CompatibleBrands = append(l.CompatibleBrands, string(c.CompatibleBrand[:]))
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read box structure: %w", err)
	}

	return l, nil
}
