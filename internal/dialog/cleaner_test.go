package dialog_test

import (
	"testing"

	"github.com/voxrelay/voxrelay/internal/dialog"
)

func TestCleanMarkdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Hello there.", want: "Hello there."},
		{name: "bold", in: "Our hours are **9 to 5**.", want: "Our hours are 9 to 5."},
		{name: "underscore bold", in: "__Important__ notice", want: "Important notice"},
		{name: "italic", in: "That is *very* helpful", want: "That is very helpful"},
		{name: "strikethrough", in: "~~old price~~ new price", want: "old price new price"},
		{name: "inline code", in: "Run `make build` first", want: "Run make build first"},
		{name: "code block dropped", in: "Before ```code\nhere``` after", want: "Before after"},
		{name: "link keeps text", in: "See [our site](https://example.com) for more", want: "See our site for more"},
		{name: "header", in: "## Summary\nAll good", want: "Summary All good"},
		{name: "bullets", in: "- first\n- second", want: "first second"},
		{name: "numbered list", in: "1. first\n2. second", want: "first second"},
		{name: "whitespace collapsed", in: "too   many\n\nspaces", want: "too many spaces"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dialog.CleanMarkdown(tt.in); got != tt.want {
				t.Errorf("CleanMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
