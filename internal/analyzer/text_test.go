package analyzer

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestCleanUTF8(t *testing.T) {
	bom := []byte{0xEF, 0xBB, 0xBF}
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"plain ascii", []byte("sku,name"), "sku,name"},
		{"bom stripped", append(bom, "sku,name"...), "sku,name"},
		{"only bom", bom, ""},
		{"empty", nil, ""},
		{"shorter than bom", []byte("a"), "a"},
		{"multibyte kept", []byte("Krzesło,Żółty"), "Krzesło,Żółty"},
		{"invalid byte", []byte{'h', 'e', 0x80, 'l', 'o'}, "he?lo"},
		{"bom then invalid byte", append(bom, 'a', 0xFF, 'b'), "a?b"},
		{"partial bom", []byte{0xEF, 0xBB, 'a', 'b'}, "??ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(cleanUTF8(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanUTF8_SplitReads(t *testing.T) {
	input := "Zielony,Żółć,ﬁnish"
	got, err := io.ReadAll(cleanUTF8(iotest.OneByteReader(strings.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestIncompleteTrailingBytes(t *testing.T) {
	zolty := []byte("Żółty")
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"ascii", []byte("abc"), 0},
		{"complete multibyte", zolty, 0},
		{"cut two byte rune", []byte("a\xc5"), 1},
		{"cut three byte rune", []byte("a\xef\xac"), 2},
		{"stray continuation", []byte("a\x80"), 0},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		if got := incompleteTrailingBytes(tt.data); got != tt.want {
			t.Errorf("%s: incompleteTrailingBytes = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSniffDelimiter(t *testing.T) {
	tests := []struct {
		line string
		want rune
	}{
		{"Product Name,SKU,Price\n", ','},
		{"Product Name;SKU;Price\r\n", ';'},
		{"Product Name\tSKU\tPrice", '\t'},
		{"Product Name|SKU|Price", '|'},
		{`"Name; with semicolon",SKU,Price`, ','},
		{"single", ','},
	}

	for _, tt := range tests {
		if got := sniffDelimiter([]byte(tt.line)); got != tt.want {
			t.Errorf("sniffDelimiter(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}
