package store

import (
	"encoding/gob"
	"fmt"
	"io"
)

// The image format is a gob stream: a header with the store-level list heads,
// then one record per segment carrying every engaged slot. Where the bytes
// live (file layout, atomic rename, checksums) is the filesystem
// collaborator's business; the store only speaks io.Reader/io.Writer.

type imageHeader struct {
	SegmentsCount            uint32
	LastNotEngagedSegmentNum uint32
	LastReleasedSegmentNum   uint32
}

type imageElement struct {
	Type        uint32
	Access      uint32
	Begin, End  Addr
	PrevOut     Addr
	NextOut     Addr
	PrevIn      Addr
	NextIn      Addr
	FirstOut    Addr
	FirstIn     Addr
	OutArcCount uint32
	InArcCount  uint32
}

type imageSegment struct {
	Num                uint32
	LastEngagedOffset  uint32
	LastReleasedOffset uint32
	Slot0Type          uint32
	Slot0Access        uint32
	Elements           []imageElement
}

// WriteImage serializes the whole segmented image. Callers quiesce mutation
// around whole-image save; concurrent writers produce a torn image.
func (s *Store) WriteImage(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enc := gob.NewEncoder(w)
	hdr := imageHeader{
		SegmentsCount:            s.segmentsCount,
		LastNotEngagedSegmentNum: s.lastNotEngagedSegmentNum,
		LastReleasedSegmentNum:   s.lastReleasedSegmentNum,
	}
	if err := enc.Encode(hdr); err != nil {
		return fmt.Errorf("image header: %w", err)
	}

	for _, seg := range s.segments {
		seg.mu.Lock()
		img := imageSegment{
			Num:                seg.num,
			LastEngagedOffset:  seg.lastEngagedOffset,
			LastReleasedOffset: seg.lastReleasedOffset,
			Slot0Type:          uint32(seg.elements[0].flags.typ),
			Slot0Access:        seg.elements[0].flags.access,
			Elements:           make([]imageElement, seg.lastEngagedOffset),
		}
		for off := uint32(1); off <= seg.lastEngagedOffset; off++ {
			el := &seg.elements[off]
			img.Elements[off-1] = imageElement{
				Type:        uint32(el.flags.typ),
				Access:      el.flags.access,
				Begin:       el.begin,
				End:         el.end,
				PrevOut:     el.prevOutArc,
				NextOut:     el.nextOutArc,
				PrevIn:      el.prevInArc,
				NextIn:      el.nextInArc,
				FirstOut:    el.firstOutArc,
				FirstIn:     el.firstInArc,
				OutArcCount: el.outputArcsCount,
				InArcCount:  el.inputArcsCount,
			}
		}
		seg.mu.Unlock()

		if err := enc.Encode(img); err != nil {
			return fmt.Errorf("image segment %d: %w", seg.num, err)
		}
	}
	return nil
}

// ReadImage replaces the store's segments with the serialized image. Only
// valid on a freshly created store before any allocation.
func (s *Store) ReadImage(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dec := gob.NewDecoder(r)
	var hdr imageHeader
	if err := dec.Decode(&hdr); err != nil {
		return fmt.Errorf("image header: %w", err)
	}
	if hdr.SegmentsCount > s.maxSegments {
		return fmt.Errorf("%w: image has %d segments, limit is %d", ErrNoMemory, hdr.SegmentsCount, s.maxSegments)
	}

	segments := make([]*segment, 0, hdr.SegmentsCount)
	for i := uint32(0); i < hdr.SegmentsCount; i++ {
		var img imageSegment
		if err := dec.Decode(&img); err != nil {
			return fmt.Errorf("image segment %d: %w", i+1, err)
		}
		if img.LastEngagedOffset >= SegmentElements || uint32(len(img.Elements)) != img.LastEngagedOffset {
			return fmt.Errorf("image segment %d: corrupt slot count", img.Num)
		}
		seg := newSegment(img.Num)
		seg.lastEngagedOffset = img.LastEngagedOffset
		seg.lastReleasedOffset = img.LastReleasedOffset
		seg.elements[0].flags.typ = Type(img.Slot0Type)
		seg.elements[0].flags.access = img.Slot0Access
		for j, iel := range img.Elements {
			off := uint32(j) + 1
			seg.elements[off] = element{
				flags:           elementFlags{typ: Type(iel.Type), access: iel.Access},
				begin:           iel.Begin,
				end:             iel.End,
				prevOutArc:      iel.PrevOut,
				nextOutArc:      iel.NextOut,
				prevInArc:       iel.PrevIn,
				nextInArc:       iel.NextIn,
				firstOutArc:     iel.FirstOut,
				firstInArc:      iel.FirstIn,
				outputArcsCount: iel.OutArcCount,
				inputArcsCount:  iel.InArcCount,
			}
		}
		segments = append(segments, seg)
	}

	s.segments = segments
	s.segmentsCount = hdr.SegmentsCount
	s.lastNotEngagedSegmentNum = hdr.LastNotEngagedSegmentNum
	s.lastReleasedSegmentNum = hdr.LastReleasedSegmentNum
	return nil
}
