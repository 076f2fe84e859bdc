// Package decode turns camera frames into badge identifiers.
package decode

import (
	"errors"
	"image"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QR decodes QR codes with gozxing. It is not safe for concurrent use;
// the scan loop owns one instance.
type QR struct {
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

func NewQR() *QR {
	return &QR{
		reader: qrcode.NewQRCodeReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode returns the identifier encoded in frame, or "" when the frame
// holds no readable code. Only unexpected failures are returned as
// errors.
func (q *QR) Decode(frame image.Image) (string, error) {
	if frame == nil {
		return "", nil
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(frame)
	if err != nil {
		return "", err
	}
	defer q.reader.Reset()

	result, err := q.reader.Decode(bmp, q.hints)
	if err != nil {
		if isMiss(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(result.GetText()), nil
}

func isMiss(err error) bool {
	var nf gozxing.NotFoundException
	var cs gozxing.ChecksumException
	var fe gozxing.FormatException
	return errors.As(err, &nf) || errors.As(err, &cs) || errors.As(err, &fe)
}
