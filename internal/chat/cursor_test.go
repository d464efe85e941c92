package chat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/chat"
	"chatcore/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	for _, seq := range []int64{0, 1, 42, 1 << 40} {
		cursor := chat.EncodeCursor(seq)
		got, err := chat.DecodeCursor(cursor)
		require.NoError(t, err)
		assert.Equal(t, seq, got)
	}
}

func TestDecodeCursor(t *testing.T) {
	t.Run("EmptyMeansStart", func(t *testing.T) {
		seq, err := chat.DecodeCursor("")
		require.NoError(t, err)
		assert.Equal(t, int64(0), seq)
	})

	t.Run("RejectsGarbage", func(t *testing.T) {
		for _, cursor := range []string{"!!!", "bm90LWEtY3Vyc29y", "c2VxOi01"} {
			_, err := chat.DecodeCursor(cursor)
			assert.ErrorIs(t, err, domain.ErrValidation, "cursor %q", cursor)
		}
	})
}
