package markdown_test

import (
	"stardaemon/internal/markdown"
	"testing"
)

func TestEscapeV2(t *testing.T) {
	got := markdown.EscapeV2("acme/widget - v1.2 (beta)!")
	want := `acme/widget \- v1\.2 \(beta\)\!`
	if got != want {
		t.Fatalf("unexpected escape: got %q want %q", got, want)
	}

	if got = markdown.EscapeV2("plain text"); got != "plain text" {
		t.Fatalf("expected unchanged input, got %q", got)
	}
}

func TestEscapeV2URL(t *testing.T) {
	got := markdown.EscapeV2URL(`https://example.com/a_(b)`)
	want := `https://example.com/a_(b\)`
	if got != want {
		t.Fatalf("unexpected escape: got %q want %q", got, want)
	}
}

func TestFindLinksByteOffsets(t *testing.T) {
	text := "⭐ acme/widget - https://github.com/acme/widget"
	links := markdown.FindLinks(text)

	if len(links) != 1 {
		t.Fatalf("expected one link, got %d", len(links))
	}

	l := links[0]
	if l.URL != "https://github.com/acme/widget" {
		t.Fatalf("unexpected URL: %q", l.URL)
	}
	if text[l.Start:l.End] != l.URL {
		t.Fatalf("offsets do not match URL: %d-%d", l.Start, l.End)
	}
}

func TestHTML(t *testing.T) {
	got := markdown.HTML("Look <here>\nhttps://github.com/acme/widget?a=1&b=2")
	want := `Look &lt;here&gt;<br><a href="https://github.com/acme/widget?a=1&amp;b=2">` +
		`https://github.com/acme/widget?a=1&amp;b=2</a>`
	if got != want {
		t.Fatalf("unexpected HTML:\n got %q\nwant %q", got, want)
	}
}
