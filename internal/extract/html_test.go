package extract

import "testing"

func TestHTMLText(t *testing.T) {
	src := `<html><head><title>ignored</title><style>body { color: red }</style></head>
	<body><h1>Cell   Biology</h1><p>Mitochondria produce <b>ATP</b>.</p>
	<script>alert("nope")</script></body></html>`

	got := HTMLText(src)
	want := "Cell Biology Mitochondria produce ATP ."
	if got != want {
		t.Errorf("HTMLText = %q, want %q", got, want)
	}
}

func TestHTMLText_PlainText(t *testing.T) {
	if got := HTMLText("just plain words"); got != "just plain words" {
		t.Errorf("HTMLText = %q", got)
	}
}

func TestHTMLText_Empty(t *testing.T) {
	if got := HTMLText(""); got != "" {
		t.Errorf("HTMLText(\"\") = %q", got)
	}
}

func TestPDFText_Empty(t *testing.T) {
	text, err := PDFText(nil)
	if err != nil {
		t.Fatalf("PDFText(nil): %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}
