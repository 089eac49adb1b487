package ws

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// STOMP commands used by the client.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// Header is one STOMP header line. Order is preserved and, per STOMP 1.2,
// the first occurrence of a repeated name wins.
type Header struct {
	Name  string
	Value string
}

// Frame is a single STOMP frame.
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// NewFrame builds a frame from alternating header name/value pairs.
func NewFrame(command string, body []byte, kv ...string) *Frame {
	f := &Frame{Command: command, Body: body}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers = append(f.Headers, Header{Name: kv[i], Value: kv[i+1]})
	}
	return f
}

// Get returns the value of the first header with the given name.
func (f *Frame) Get(name string) string {
	for _, h := range f.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// escapes reports whether header values of this command are escaped.
// CONNECT and CONNECTED frames are exempt for 1.0 compatibility.
func escapes(command string) bool {
	return command != CmdConnect && command != CmdConnected
}

var (
	headerEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	headerUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r", `\n`, "\n", `\c`, ":")
)

// Encode serialises the frame. SEND frames with a body carry a content-length
// header so bodies may contain NUL bytes.
func (f *Frame) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	esc := escapes(f.Command)
	hasLength := false
	for _, h := range f.Headers {
		if h.Name == "content-length" {
			hasLength = true
		}
		if esc {
			buf.WriteString(headerEscaper.Replace(h.Name))
			buf.WriteByte(':')
			buf.WriteString(headerEscaper.Replace(h.Value))
		} else {
			buf.WriteString(h.Name)
			buf.WriteByte(':')
			buf.WriteString(h.Value)
		}
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 && !hasLength {
		buf.WriteString("content-length:")
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// ParseFrame decodes one frame. A payload made only of end-of-line bytes is a
// heart-beat and yields a nil frame with a nil error.
func ParseFrame(data []byte) (*Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}

	line, rest, ok := cutLine(data)
	if !ok {
		return nil, fmt.Errorf("ws: truncated frame: missing command line")
	}
	f := &Frame{Command: string(line)}
	if f.Command == "" {
		return nil, fmt.Errorf("ws: empty command")
	}

	esc := escapes(f.Command)
	for {
		line, rest, ok = cutLine(rest)
		if !ok {
			return nil, fmt.Errorf("ws: truncated %s frame: missing header terminator", f.Command)
		}
		if len(line) == 0 {
			break
		}
		i := bytes.IndexByte(line, ':')
		if i < 0 {
			return nil, fmt.Errorf("ws: malformed header %q", line)
		}
		name, value := string(line[:i]), string(line[i+1:])
		if esc {
			name, value = headerUnescaper.Replace(name), headerUnescaper.Replace(value)
		}
		f.Headers = append(f.Headers, Header{Name: name, Value: value})
	}

	if cl := f.Get("content-length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("ws: invalid content-length %q", cl)
		}
		if len(rest) < n+1 || rest[n] != 0 {
			return nil, fmt.Errorf("ws: %s body shorter than content-length %d", f.Command, n)
		}
		f.Body = rest[:n]
		return f, nil
	}

	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, fmt.Errorf("ws: %s frame not NUL-terminated", f.Command)
	}
	f.Body = rest[:end]
	return f, nil
}

// cutLine splits off one line ending in LF or CRLF.
func cutLine(data []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return nil, nil, false
	}
	line = data[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, data[i+1:], true
}
