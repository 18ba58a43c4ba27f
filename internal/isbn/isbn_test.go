package isbn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "hyphenated isbn13 with label", text: "Penguin Classics\nISBN 978-0-14-303943-3\n$16.00", want: "9780143039433"},
		{name: "bare isbn13", text: "9780441013593", want: "9780441013593"},
		{name: "isbn13 followed by page count", text: "ISBN 9780441013593 412 pages", want: "9780441013593"},
		{name: "979 prefix with spaces", text: "979 10 90636 07 1", want: "9791090636071"},
		{name: "isbn10 grouped", text: "ISBN-10: 0-441-01359-7", want: "0441013597"},
		{name: "isbn10 with X check digit", text: "isbn 0-8044-2957-x", want: "080442957X"},
		{name: "bare isbn10", text: "see 044101359X inside", want: "044101359X"},
		{name: "prefers isbn13 over earlier isbn10", text: "0-441-01359-7 then 978-0-441-01359-3", want: "9780441013593"},
		{name: "no identifier", text: "DUNE\nFRANK HERBERT", want: ""},
		{name: "empty", text: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Extract(tt.text))
		})
	}
}

func TestExtractedValuesHaveValidShape(t *testing.T) {
	inputs := []string{
		"ISBN 978-0-14-303943-3",
		"ISBN-10: 0-441-01359-7",
		"isbn 0-8044-2957-x",
		"979-8-88-645123-4",
	}
	for _, in := range inputs {
		got := Extract(in)
		require.True(t, Valid(got), "extracted %q from %q", got, in)
	}
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "9780143039433", Normalize("ISBN 978-0-14-303943-3"))
	require.Equal(t, "080442957X", Normalize("0 8044 2957 x"))
	require.Equal(t, "0441013597", Normalize("ISBN-10 0441013597"))
	require.Equal(t, "", Normalize("   "))
}

func TestValid(t *testing.T) {
	require.True(t, Valid("0441013597"))
	require.True(t, Valid("044101359X"))
	require.True(t, Valid("9780441013593"))
	require.True(t, Valid("9791090636071"))
	require.False(t, Valid("9770441013593"))
	require.False(t, Valid("04410135"))
	require.False(t, Valid("978-0441013593"))
}

func TestClean(t *testing.T) {
	require.Equal(t, "9780441013593", Clean("ISBN 978-0-441-01359-3"))
	require.Equal(t, "044101359X", Clean("0-441-01359-x"))
	require.Equal(t, "", Clean("B000FC0PDA"))
	require.Equal(t, "", Clean("12345"))
	require.Equal(t, "", Clean(""))
}

func TestPrefer(t *testing.T) {
	require.Equal(t, "9780441013593", Prefer("978-0-441-01359-3", "0441013597"))
	require.Equal(t, "0441013597", Prefer("", "0-441-01359-7"))
	require.Equal(t, "0441013597", Prefer("12345", "0441013597"))
	require.Equal(t, "", Prefer("", ""))
}
