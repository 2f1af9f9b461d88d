package zimfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Dirent is one encoded directory entry.
//
//	u16 mimetype   index into the MIME list, or one of the Mime* markers
//	u8  paramLen
//	u8  namespace
//	u32 revision
//	u32 cluster, u32 blob   (content entries)
//	u32 redirectIndex       (redirects)
//	url\0 title\0 parameter
type Dirent struct {
	MimeType      uint16
	Namespace     byte
	Revision      uint32
	Cluster       uint32
	Blob          uint32
	RedirectIndex uint32
	URL           string
	Title         string
	Parameter     []byte
}

func (d Dirent) IsRedirect() bool { return d.MimeType == MimeRedirect }

func (d Dirent) hasContent() bool {
	return d.MimeType != MimeRedirect && d.MimeType != MimeLinkTarget && d.MimeType != MimeDeleted
}

// EffectiveTitle is the title used for title ordering; an empty title
// stands for the URL.
func (d Dirent) EffectiveTitle() string {
	if d.Title == "" {
		return d.URL
	}
	return d.Title
}

// MarshalBinary encodes the entry.
func (d Dirent) MarshalBinary() ([]byte, error) {
	if len(d.Parameter) > 0xff {
		return nil, fmt.Errorf("zimfile: parameter of %d bytes exceeds 255", len(d.Parameter))
	}
	b := make([]byte, 0, 16+len(d.URL)+len(d.Title)+2+len(d.Parameter))
	le := binary.LittleEndian
	b = le.AppendUint16(b, d.MimeType)
	b = append(b, byte(len(d.Parameter)), d.Namespace)
	b = le.AppendUint32(b, d.Revision)
	switch {
	case d.MimeType == MimeRedirect:
		b = le.AppendUint32(b, d.RedirectIndex)
	case d.hasContent():
		b = le.AppendUint32(b, d.Cluster)
		b = le.AppendUint32(b, d.Blob)
	}
	b = append(b, d.URL...)
	b = append(b, 0)
	b = append(b, d.Title...)
	b = append(b, 0)
	b = append(b, d.Parameter...)
	return b, nil
}

func readDirent(r io.Reader) (Dirent, error) {
	br := bufio.NewReaderSize(r, 256)
	var d Dirent
	var fixed [8]byte
	if _, err := io.ReadFull(br, fixed[:]); err != nil {
		return d, fmt.Errorf("read dirent header: %w", err)
	}
	le := binary.LittleEndian
	d.MimeType = le.Uint16(fixed[0:])
	paramLen := int(fixed[2])
	d.Namespace = fixed[3]
	d.Revision = le.Uint32(fixed[4:])

	var word [4]byte
	readU32 := func() (uint32, error) {
		if _, err := io.ReadFull(br, word[:]); err != nil {
			return 0, err
		}
		return le.Uint32(word[:]), nil
	}
	var err error
	switch {
	case d.MimeType == MimeRedirect:
		if d.RedirectIndex, err = readU32(); err != nil {
			return d, fmt.Errorf("read redirect index: %w", err)
		}
	case d.hasContent():
		if d.Cluster, err = readU32(); err != nil {
			return d, fmt.Errorf("read cluster number: %w", err)
		}
		if d.Blob, err = readU32(); err != nil {
			return d, fmt.Errorf("read blob number: %w", err)
		}
	}

	if d.URL, err = readCString(br); err != nil {
		return d, fmt.Errorf("read url: %w", err)
	}
	if d.Title, err = readCString(br); err != nil {
		return d, fmt.Errorf("read title: %w", err)
	}
	if paramLen > 0 {
		d.Parameter = make([]byte, paramLen)
		if _, err := io.ReadFull(br, d.Parameter); err != nil {
			return d, fmt.Errorf("read parameter: %w", err)
		}
	}
	return d, nil
}

func readCString(br *bufio.Reader) (string, error) {
	s, err := br.ReadString(0)
	if err != nil {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return s[:len(s)-1], nil
}
