package textutil

import "testing"

func TestPlainTextSanitize(t *testing.T) {
	s := NewPlainText()
	cases := map[string]string{
		"":                                      "",
		"  12 MG Road  ":                        "12 MG Road",
		"<b>Flat 4</b>, Block <i>C</i>":         "Flat 4, Block C",
		"<script>alert(1)</script>Pune":         "Pune",
		"Tom &amp; Jerry's":                     "Tom & Jerry's",
		"line one\r\nline\ttwo":                 "line one line two",
		`carrier lost it <a href="x">link</a>`: "carrier lost it link",
	}
	for input, want := range cases {
		if got := s.Sanitize(input); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", input, got, want)
		}
	}
}
