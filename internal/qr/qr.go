package qr

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

const pngWidth = 300

// DataURL renders the content as a QR PNG wrapped in a data URL, ready for an
// <img> tag on the owning endpoint.
func DataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, pngWidth)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
