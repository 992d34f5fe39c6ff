package receipt

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var (
	escInit       = []byte{0x1b, 0x40}
	escCodePage   = []byte{0x1b, 0x74, 0x02}
	escFeed       = []byte{0x1b, 0x64, 0x04}
	escPartialCut = []byte{0x1d, 0x56, 0x41, 0x10}
	escCenter     = []byte{0x1b, 0x61, 0x01}
	escLeft       = []byte{0x1b, 0x61, 0x00}

	qrModel      = []byte{0x1d, 0x28, 0x6b, 0x04, 0x00, 0x31, 0x41, 0x32, 0x00}
	qrModuleSize = []byte{0x1d, 0x28, 0x6b, 0x03, 0x00, 0x31, 0x43, 0x05}
	qrErrorLevel = []byte{0x1d, 0x28, 0x6b, 0x03, 0x00, 0x31, 0x45, 0x31}
	qrPrint      = []byte{0x1d, 0x28, 0x6b, 0x03, 0x00, 0x31, 0x51, 0x30}
)

// EscPos wraps receipt text for a thermal printer: reset, CP850 code page,
// the encoded text, a short feed and a partial cut. Characters CP850 cannot
// represent are replaced rather than failing the job.
func EscPos(text string) ([]byte, error) {
	body, err := encodeCP850(text)
	if err != nil {
		return nil, err
	}
	return frame(body), nil
}

// EscPos renders the receipt for a thermal printer, adding the printer's own
// QR code command when the code could not be drawn as text.
func (r Receipt) EscPos() ([]byte, error) {
	if r.NativeQR == "" {
		return EscPos(r.Text)
	}

	lines := strings.SplitAfter(r.Text, "\n")
	at := min(max(r.nativeQRLine, 0), len(lines))
	head, err := encodeCP850(strings.Join(lines[:at], ""))
	if err != nil {
		return nil, err
	}
	tail, err := encodeCP850(strings.Join(lines[at:], ""))
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(head)+len(tail)+len(r.NativeQR)+48)
	body = append(body, head...)
	body = append(body, nativeQR(r.NativeQR)...)
	body = append(body, tail...)
	return frame(body), nil
}

// nativeQR is the GS ( k sequence for a model 2 code with error level M,
// centered on the paper.
func nativeQR(content string) []byte {
	size := len(content) + 3
	out := make([]byte, 0, len(content)+48)
	out = append(out, escCenter...)
	out = append(out, qrModel...)
	out = append(out, qrModuleSize...)
	out = append(out, qrErrorLevel...)
	out = append(out, 0x1d, 0x28, 0x6b, byte(size&0xff), byte(size>>8), 0x31, 0x50, 0x30)
	out = append(out, content...)
	out = append(out, qrPrint...)
	out = append(out, '\n')
	out = append(out, escLeft...)
	return out
}

func encodeCP850(text string) ([]byte, error) {
	encoder := encoding.ReplaceUnsupported(charmap.CodePage850.NewEncoder())
	return encoder.Bytes([]byte(text))
}

func frame(body []byte) []byte {
	out := make([]byte, 0, len(body)+16)
	out = append(out, escInit...)
	out = append(out, escCodePage...)
	out = append(out, body...)
	out = append(out, escFeed...)
	out = append(out, escPartialCut...)
	return out
}
