package receipt

import (
	qrcode "github.com/skip2/go-qrcode"
)

// RenderQR draws content as half-block text, two modules per character row.
func RenderQR(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", err
	}
	q.DisableBorder = true
	return q.ToSmallString(false), nil
}
