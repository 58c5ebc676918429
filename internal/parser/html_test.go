package parser

import "testing"

func TestHTMLParser_Parse(t *testing.T) {
	p := NewHTMLParser()

	tests := []struct {
		name string
		html string
		want string
	}{
		{"empty", "", ""},
		{"paragraphs", "<p>Hello</p><p>World</p>", "Hello\nWorld"},
		{"drops scripts", "<div>Order shipped<script>alert(1)</script></div>", "Order shipped"},
		{"collapses whitespace", "<div>a   \t b</div>", "a b"},
		{"strips zero width", "<p>un\u200bsubscribe</p>", "unsubscribe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.html)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLParser_PlainText(t *testing.T) {
	p := NewHTMLParser()

	if got := p.PlainText("  plain  body ", "<p>html</p>"); got != "plain body" {
		t.Errorf("expected text body to win, got %q", got)
	}
	if got := p.PlainText("", "<p>html</p>"); got != "html" {
		t.Errorf("expected html fallback, got %q", got)
	}
}
