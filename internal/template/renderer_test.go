package template

import "testing"

func TestSubstitute(t *testing.T) {
	ctx := map[string]any{"id": float64(7), "name": "ann", "uid": "ab12"}
	cases := []struct {
		in   string
		want string
	}{
		{"/users/%id%", "/users/7"},
		{"%uid%-%name%", "ab12-ann"},
		{"plain", "plain"},
		{"%unknown%", "%unknown%"},
		{"100% sure", "100% sure"},
	}
	for _, tc := range cases {
		if got := Substitute(tc.in, ctx); got != tc.want {
			t.Errorf("Substitute(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRender(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("{{.name}} <{{.email}}>", map[string]any{"name": "Ann", "email": "a@x.com"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out != "Ann <a@x.com>" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderPassThrough(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("no actions here", nil)
	if err != nil || out != "no actions here" {
		t.Errorf("out = %q, err = %v", out, err)
	}
}

func TestRenderMissingKey(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("x{{.gone}}y", map[string]any{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out != "xy" {
		t.Errorf("out = %q, want missing keys rendered empty", out)
	}
}
