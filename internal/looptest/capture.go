package looptest

import (
	"encoding/binary"
	"errors"
	"io"
)

// pcap global/per-record header layout, RFC-less but universally implemented
// (libpcap's savefile.c): little-endian byte order, magic 0xa1b2c3d4 marks a
// microsecond-resolution capture of linktype 1 (Ethernet).
const (
	pcapMagic         = 0xa1b2c3d4
	pcapVersionMajor  = 2
	pcapVersionMinor  = 4
	pcapLinktypeEther = 1
	sizeGlobalHeader  = 24
	sizeRecordHeader  = 16
)

var errBadMagic = errors.New("looptest: not a pcap capture (bad magic)")

// Writer appends captured frames to an underlying pcap file, so an
// end-to-end test's exchange can be dumped and replayed later without a
// live NIC, the same role the teacher's internet/pcap package serves for
// inspecting captures interactively.
type Writer struct {
	w        io.Writer
	snaplen  uint32
	wroteHdr bool
}

// NewWriter wraps w, capturing up to snaplen bytes per frame (0 means
// unlimited).
func NewWriter(w io.Writer, snaplen uint32) *Writer {
	if snaplen == 0 {
		snaplen = 1 << 16
	}
	return &Writer{w: w, snaplen: snaplen}
}

func (cw *Writer) writeGlobalHeader() error {
	var hdr [sizeGlobalHeader]byte
	binary.LittleEndian.PutUint32(hdr[0:4], pcapMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], pcapVersionMajor)
	binary.LittleEndian.PutUint16(hdr[6:8], pcapVersionMinor)
	binary.LittleEndian.PutUint32(hdr[16:20], cw.snaplen)
	binary.LittleEndian.PutUint32(hdr[20:24], pcapLinktypeEther)
	_, err := cw.w.Write(hdr[:])
	return err
}

// WritePacket appends one captured frame, writing the global header first
// if this is the first call.
func (cw *Writer) WritePacket(frame []byte, tsSec, tsUsec uint32) error {
	if !cw.wroteHdr {
		if err := cw.writeGlobalHeader(); err != nil {
			return err
		}
		cw.wroteHdr = true
	}
	incl := uint32(len(frame))
	if incl > cw.snaplen {
		incl = cw.snaplen
	}
	var rec [sizeRecordHeader]byte
	binary.LittleEndian.PutUint32(rec[0:4], tsSec)
	binary.LittleEndian.PutUint32(rec[4:8], tsUsec)
	binary.LittleEndian.PutUint32(rec[8:12], incl)
	binary.LittleEndian.PutUint32(rec[12:16], uint32(len(frame)))
	if _, err := cw.w.Write(rec[:]); err != nil {
		return err
	}
	_, err := cw.w.Write(frame[:incl])
	return err
}

// Reader reads frames back out of a pcap capture written by Writer (or any
// other microsecond-resolution, little-endian pcap file).
type Reader struct {
	r       io.Reader
	readHdr bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

func (cr *Reader) readGlobalHeader() error {
	var hdr [sizeGlobalHeader]byte
	if _, err := io.ReadFull(cr.r, hdr[:]); err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != pcapMagic {
		return errBadMagic
	}
	return nil
}

// ReadPacket returns the next captured frame and its timestamp, or io.EOF
// once the capture is exhausted.
func (cr *Reader) ReadPacket() (frame []byte, tsSec, tsUsec uint32, err error) {
	if !cr.readHdr {
		if err := cr.readGlobalHeader(); err != nil {
			return nil, 0, 0, err
		}
		cr.readHdr = true
	}
	var rec [sizeRecordHeader]byte
	if _, err := io.ReadFull(cr.r, rec[:]); err != nil {
		return nil, 0, 0, err
	}
	tsSec = binary.LittleEndian.Uint32(rec[0:4])
	tsUsec = binary.LittleEndian.Uint32(rec[4:8])
	incl := binary.LittleEndian.Uint32(rec[8:12])
	frame = make([]byte, incl)
	if _, err := io.ReadFull(cr.r, frame); err != nil {
		return nil, 0, 0, err
	}
	return frame, tsSec, tsUsec, nil
}
