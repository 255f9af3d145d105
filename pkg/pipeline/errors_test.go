package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestStatusErrorTruncatesOnRuneBoundary(t *testing.T) {
	// 199 ASCII bytes put the 200th byte inside the first "é".
	body := strings.Repeat("a", 199) + strings.Repeat("é", 50)
	msg := (&StatusError{Code: 502, Body: body}).Error()
	require.True(t, utf8.ValidString(msg), msg)
	require.True(t, strings.HasSuffix(msg, strings.Repeat("a", 199)+"..."), msg)

	short := (&StatusError{Code: 500, Body: "  ☃ down  "}).Error()
	require.Equal(t, "pipeline returned status 500: ☃ down", short)
	require.Equal(t, "pipeline returned status 404", (&StatusError{Code: 404}).Error())
}
