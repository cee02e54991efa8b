package report

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrScheme = "pktchain:"

// CaptureQR creates a QR code PNG identifying the capture a report describes:
// its file name, SHA-256 digest, packet count and verdict. A printed report
// can be matched against the file by scanning it.
func CaptureQR(rep CaptureReport, size int) ([]byte, error) {
	payload, err := qrPayload(rep)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 128
	}
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return q.PNG(size)
}

func qrPayload(rep CaptureReport) (string, error) {
	digest := digestHex(rep.Sha256)
	if len(digest) != 64 {
		return "", fmt.Errorf("capture digest %q is not a SHA-256", rep.Sha256)
	}
	verdict := "fail"
	if rep.Summary.Pass {
		verdict = "pass"
	}
	v := url.Values{}
	v.Set("file", filepath.Base(rep.File))
	v.Set("sha256", digest)
	v.Set("packets", strconv.Itoa(rep.Summary.Packets))
	v.Set("verdict", verdict)
	return qrScheme + v.Encode(), nil
}

// parseQRPayload is the inverse of qrPayload.
func parseQRPayload(s string) (url.Values, error) {
	rest, ok := strings.CutPrefix(s, qrScheme)
	if !ok {
		return nil, fmt.Errorf("qr payload %q: missing %s prefix", s, qrScheme)
	}
	return url.ParseQuery(rest)
}

// digestHex keeps the hex digits of a digest, lower-cased, dropping
// separators such as colons or spaces.
func digestHex(hash string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(hash)) {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
			b.WriteRune(r)
		}
	}
	return b.String()
}
