package detector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristic_ShouldRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		head string
		want bool
	}{
		{
			name: "empty head",
			head: "",
			want: false,
		},
		{
			name: "react helmet marker",
			head: `<head><title data-react-helmet="true">App</title></head>`,
			want: true,
		},
		{
			name: "vue meta marker",
			head: `<head><meta data-n-head="ssr" charset="utf-8"></head>`,
			want: true,
		},
		{
			name: "script heavy shell",
			head: `<head><script src="/static/js/main.js"></script><title>x</title></head>`,
			want: true,
		},
		{
			name: "static head",
			head: `<head><meta charset="utf-8"><title>A perfectly ordinary document title</title>` +
				`<meta name="description" content="server rendered page with plenty of markup"></head>`,
			want: false,
		},
	}

	h := NewHeuristic(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.ShouldRender(tt.head))
		})
	}
}

func TestHeuristic_LongHeadIgnoresDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	require.False(t, h.ShouldRender(`<head><script>var a=1;</script></head>`))
}
