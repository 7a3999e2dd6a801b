package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/raidscope/raidscope/internal/world"
)

// maxProfileSize bounds the inflated profile document.
const maxProfileSize = 32 << 20

// DecodeProfile inflates a zlib compressed profile document and extracts the
// player identity.
func DecodeProfile(blob []byte) (world.Profile, error) {
	var pr world.Profile
	zr, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return pr, fmt.Errorf("profile zlib header: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxProfileSize))
	if err != nil {
		return pr, fmt.Errorf("profile inflate: %w", err)
	}
	if err := json.Unmarshal(raw, &pr); err != nil {
		return pr, fmt.Errorf("profile json: %w", err)
	}
	return pr, nil
}

// EncodeProfile is the inverse of DecodeProfile, used to build spawn
// messages.
func EncodeProfile(pr world.Profile) ([]byte, error) {
	raw, err := json.Marshal(pr)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
