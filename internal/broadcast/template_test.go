package broadcast

import "testing"

func TestRender(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{
			name: "substitutes known variables",
			tmpl: "Hi {first_name} {last_name}, greetings from {location}.",
			vars: map[string]string{"first_name": "Anna", "last_name": "Kiss", "location": "Budapest"},
			want: "Hi Anna Kiss, greetings from Budapest.",
		},
		{
			name: "missing variable renders unknown",
			tmpl: "Hi {first_name}!",
			vars: map[string]string{},
			want: "Hi <unknown>!",
		},
		{
			name: "empty value renders unknown",
			tmpl: "Hi {first_name}!",
			vars: map[string]string{"first_name": ""},
			want: "Hi <unknown>!",
		},
		{
			name: "no placeholders passes through",
			tmpl: "Plain text.",
			vars: map[string]string{"first_name": "Anna"},
			want: "Plain text.",
		},
		{
			name: "repeated placeholder",
			tmpl: "{first_name}, yes you, {first_name}",
			vars: map[string]string{"first_name": "Anna"},
			want: "Anna, yes you, Anna",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Render(tc.tmpl, tc.vars); got != tc.want {
				t.Fatalf("Render() = %q, want %q", got, tc.want)
			}
		})
	}
}
