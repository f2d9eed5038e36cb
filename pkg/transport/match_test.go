package transport

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"nodes/new/**", "nodes/new/video", true},
		{"nodes/new/**", "nodes/new/video/hd", true},
		{"nodes/new/**", "nodes/new", true},
		{"nodes/new/**", "nodes/newer", false},
		{"nodes/new/**", "distribute/docker_image_zip", false},
		{"nodes/*/video", "nodes/new/video", true},
		{"nodes/*/video", "nodes/new/old/video", false},
		{"distribute/docker_image_zip", "distribute/docker_image_zip", true},
		{"distribute/docker_image_zip", "distribute/docker_image_zip/extra", false},
		{"distribute/docker_image_zip", "distribute", false},
		{"**", "anything/at/all", true},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.topic); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	valid := []string{"nodes/new/**", "nodes/*/video", "distribute/docker_image_zip"}
	for _, p := range valid {
		if err := ValidatePattern(p); err != nil {
			t.Errorf("ValidatePattern(%q) unexpected error: %v", p, err)
		}
	}
	invalid := []string{"", "nodes//new", "nodes/**/video", "nodes/new*", "/nodes"}
	for _, p := range invalid {
		if err := ValidatePattern(p); err == nil {
			t.Errorf("ValidatePattern(%q) expected error", p)
		}
	}
	if err := ValidateTopic("nodes/new/*"); err == nil {
		t.Errorf("ValidateTopic should reject wildcards")
	}
}

func TestRedisGlob(t *testing.T) {
	cases := map[string]string{
		"nodes/new/**":                "nodes/new*",
		"nodes/*/video":               "nodes/*/video",
		"distribute/docker_image_zip": "distribute/docker_image_zip",
		"odd/[name]?":                 `odd/\[name\]\?`,
	}
	for in, want := range cases {
		if got := redisGlob(in); got != want {
			t.Errorf("redisGlob(%q) = %q, want %q", in, got, want)
		}
	}
}
