// Package snapshot turns a camera frame into a base64 JPEG still.
package snapshot

import (
	"encoding/base64"
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame means there was nothing to encode
var ErrEmptyFrame = errors.New("empty frame")

// Format is the tag sent with every snapshot
const Format = "jpeg"

// JPEGEncoder encodes frames in memory at a fixed quality
type JPEGEncoder struct {
	quality int
}

// NewJPEGEncoder creates an encoder. Quality outside 1-100 uses 90.
func NewJPEGEncoder(quality int) *JPEGEncoder {
	if quality < 1 || quality > 100 {
		quality = 90
	}
	return &JPEGEncoder{quality: quality}
}

// Quality returns the JPEG quality in use
func (e *JPEGEncoder) Quality() int {
	return e.quality
}

// Encode returns the JPEG bytes of frame
func (e *JPEGEncoder) Encode(frame gocv.Mat) ([]byte, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, e.quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("encode jpeg: no data")
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// EncodeBase64 returns the frame as a standard base64 JPEG string
func (e *JPEGEncoder) EncodeBase64(frame gocv.Mat) (string, error) {
	data, err := e.Encode(frame)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
