package chat

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"chatcore/internal/domain"
)

// Cursors are opaque pagination tokens derived from a message's sequence
// number. Clients must treat them as black boxes.

// EncodeCursor produces the cursor pointing just after the given seq.
func EncodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte("seq:" + strconv.FormatInt(seq, 10)))
}

// DecodeCursor returns the seq a cursor points after. The empty cursor
// decodes to 0 (start of the conversation).
func DecodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	var seq int64
	if _, err := fmt.Sscanf(string(raw), "seq:%d", &seq); err != nil || seq < 0 {
		return 0, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	return seq, nil
}
