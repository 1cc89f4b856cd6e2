package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Codec implements the self-describing length-prefixed binary encoding used
// for OK response bodies. Every string and byte array is prefixed
// with its uint32 big-endian length; optional elements are prefixed with a
// single presence byte (0 absent / 1 present).

func putString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(buf); err != nil {
			return "", fmt.Errorf("read string bytes: %w", err)
		}
	}
	return string(buf), nil
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func getUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read uint32: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func putOptionalBytes(buf *bytes.Buffer, b []byte) {
	if b == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func getOptionalBytes(r *bytes.Reader) ([]byte, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read presence byte: %w", err)
	}
	if present == 0 {
		return nil, nil
	}
	n, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("read optional bytes: %w", err)
		}
	}
	return buf, nil
}

// EncodeMediaList encodes the parallel ids/titles arrays.
func EncodeMediaList(ids, titles []string) []byte {
	var buf bytes.Buffer
	putUint32(&buf, uint32(len(ids)))
	for _, id := range ids {
		putString(&buf, id)
	}
	for _, title := range titles {
		putString(&buf, title)
	}
	return buf.Bytes()
}

// DecodeMediaList decodes a MediaList body.
func DecodeMediaList(body []byte) (ids, titles []string, err error) {
	r := bytes.NewReader(body)
	n, err := getUint32(r)
	if err != nil {
		return nil, nil, err
	}
	ids = make([]string, n)
	for i := range ids {
		if ids[i], err = getString(r); err != nil {
			return nil, nil, err
		}
	}
	titles = make([]string, n)
	for i := range titles {
		if titles[i], err = getString(r); err != nil {
			return nil, nil, err
		}
	}
	return ids, titles, nil
}

// MediaInfo is the record body carried by INFO responses.
type MediaInfo struct {
	ID            string
	Title         string
	DurationSecs  int
	VideoWidth    int
	VideoHeight   int
	VideoCodec    string
	AudioCodec    string
	ContainerName string
}

// EncodeMediaInfo encodes a MediaInfo record. Stream descriptors are
// optional; when absent the numeric fields are encoded as zero and the
// string fields as empty.
func EncodeMediaInfo(info MediaInfo) []byte {
	var buf bytes.Buffer
	putString(&buf, info.ID)
	putString(&buf, info.Title)
	putUint32(&buf, uint32(info.DurationSecs))
	putUint32(&buf, uint32(info.VideoWidth))
	putUint32(&buf, uint32(info.VideoHeight))
	putString(&buf, info.VideoCodec)
	putString(&buf, info.AudioCodec)
	putString(&buf, info.ContainerName)
	return buf.Bytes()
}

// DecodeMediaInfo decodes a MediaInfo body.
func DecodeMediaInfo(body []byte) (MediaInfo, error) {
	r := bytes.NewReader(body)
	var info MediaInfo
	var err error
	if info.ID, err = getString(r); err != nil {
		return info, err
	}
	if info.Title, err = getString(r); err != nil {
		return info, err
	}
	var dur, w, h uint32
	if dur, err = getUint32(r); err != nil {
		return info, err
	}
	info.DurationSecs = int(dur)
	if w, err = getUint32(r); err != nil {
		return info, err
	}
	info.VideoWidth = int(w)
	if h, err = getUint32(r); err != nil {
		return info, err
	}
	info.VideoHeight = int(h)
	if info.VideoCodec, err = getString(r); err != nil {
		return info, err
	}
	if info.AudioCodec, err = getString(r); err != nil {
		return info, err
	}
	if info.ContainerName, err = getString(r); err != nil {
		return info, err
	}
	return info, nil
}

// ClipBatch is the FetchedClips body: a tuple of (media-id, starting-index,
// video[0..n-1], audio[0..n-1]) where each element is either a byte blob or
// a "hole" (nil) marker.
type ClipBatch struct {
	MediaID string
	Offset  int
	Video   [][]byte
	Audio   [][]byte
}

// EncodeFetchedClips encodes a ClipBatch body. len(video) must equal
// len(audio).
func EncodeFetchedClips(batch ClipBatch) []byte {
	var buf bytes.Buffer
	putString(&buf, batch.MediaID)
	putUint32(&buf, uint32(batch.Offset))
	putUint32(&buf, uint32(len(batch.Video)))
	for _, v := range batch.Video {
		putOptionalBytes(&buf, v)
	}
	for _, a := range batch.Audio {
		putOptionalBytes(&buf, a)
	}
	return buf.Bytes()
}

// DecodeFetchedClips decodes a FetchedClips body.
func DecodeFetchedClips(body []byte) (ClipBatch, error) {
	r := bytes.NewReader(body)
	var batch ClipBatch
	var err error
	if batch.MediaID, err = getString(r); err != nil {
		return batch, err
	}
	var offset, n uint32
	if offset, err = getUint32(r); err != nil {
		return batch, err
	}
	batch.Offset = int(offset)
	if n, err = getUint32(r); err != nil {
		return batch, err
	}
	batch.Video = make([][]byte, n)
	for i := range batch.Video {
		if batch.Video[i], err = getOptionalBytes(r); err != nil {
			return batch, err
		}
	}
	batch.Audio = make([][]byte, n)
	for i := range batch.Audio {
		if batch.Audio[i], err = getOptionalBytes(r); err != nil {
			return batch, err
		}
	}
	return batch, nil
}
