package capture

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/raidscope/raidscope/internal/transport"
)

// DefaultLocalPrefix marks destination addresses on the local network.
const DefaultLocalPrefix = "192.168.88."

// ErrBadRecord is returned for a line that is neither a packet record nor a
// capture tool record.
var ErrBadRecord = errors.New("bad packet record")

// Record is one line of a packet log or replay file.
type Record struct {
	Incoming bool   `json:"incoming"`
	Data     string `json:"data"`
}

// line accepts both the packet log form and capture tool exports.
type line struct {
	Incoming *bool  `json:"incoming"`
	Data     string `json:"data"`
	Source   *struct {
		Layers struct {
			IP struct {
				Dst string `json:"ip.dst"`
			} `json:"ip"`
			Data *struct {
				Data string `json:"data.data"`
			} `json:"data"`
		} `json:"layers"`
	} `json:"_source"`
}

// ParseRecord decodes one replay line. ok is false for capture tool records
// without a data layer. For those records the direction is derived from the
// destination address and localPrefix.
func ParseRecord(raw []byte, localPrefix string) (pkt transport.Packet, ok bool, err error) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return pkt, false, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}

	switch {
	case l.Source != nil:
		if l.Source.Layers.Data == nil {
			return pkt, false, nil
		}
		if localPrefix == "" {
			localPrefix = DefaultLocalPrefix
		}
		pkt.Incoming = strings.HasPrefix(l.Source.Layers.IP.Dst, localPrefix)
		pkt.Data, err = DecodeHex(l.Source.Layers.Data.Data)
	case l.Incoming != nil:
		pkt.Incoming = *l.Incoming
		pkt.Data, err = DecodeHex(l.Data)
	default:
		return pkt, false, fmt.Errorf("%w: no incoming flag or _source", ErrBadRecord)
	}
	if err != nil {
		return pkt, false, err
	}
	return pkt, true, nil
}

// DecodeHex accepts plain or colon separated hex.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: hex: %v", ErrBadRecord, err)
	}
	return b, nil
}

// EncodeHex renders b as colon separated lower case hex.
func EncodeHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex.EncodeToString([]byte{c}))
	}
	return sb.String()
}

// MarshalRecord renders pkt as one packet log line without the newline.
func MarshalRecord(pkt transport.Packet) ([]byte, error) {
	return json.Marshal(Record{Incoming: pkt.Incoming, Data: EncodeHex(pkt.Data)})
}

// Convert rewrites a JSON array capture export as NDJSON, one compacted
// element per line. It returns the number of records written.
func Convert(r io.Reader, w io.Writer) (int, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	tok, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("read export: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return 0, fmt.Errorf("%w: export is not a JSON array", ErrBadRecord)
	}

	bw := bufio.NewWriter(w)
	n := 0
	for dec.More() {
		var elem json.RawMessage
		if err := dec.Decode(&elem); err != nil {
			return n, fmt.Errorf("record %d: %w", n, err)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, elem); err != nil {
			return n, fmt.Errorf("record %d: %w", n, err)
		}
		buf.WriteByte('\n')
		if _, err := bw.Write(buf.Bytes()); err != nil {
			return n, err
		}
		n++
	}
	if _, err := dec.Token(); err != nil {
		return n, fmt.Errorf("close export: %w", err)
	}
	return n, bw.Flush()
}
