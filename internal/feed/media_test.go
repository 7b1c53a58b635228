package feed

import "testing"

func TestMediaResolver_Resolve(t *testing.T) {
	r := MediaResolver{
		BaseURL:        "https://www.example.com/",
		CanonicalHost:  "www.example.com",
		AlternateHosts: []string{"example.com", "media.example.net"},
	}

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "  ", ""},
		{"bare filename", "photo.jpg", "https://www.example.com/media/photo.jpg"},
		{"filename with space", "my photo.jpg", "https://www.example.com/media/my%20photo.jpg"},
		{"absolute path", "/api/media/file/photo.jpg", "https://www.example.com/api/media/file/photo.jpg"},
		{"relative path", "uploads/photo.jpg", "https://www.example.com/uploads/photo.jpg"},
		{"canonical host untouched", "https://www.example.com/a.jpg", "https://www.example.com/a.jpg"},
		{"alternate host rewritten", "http://example.com/a.jpg?w=200", "https://www.example.com/a.jpg?w=200"},
		{"alternate host case-insensitive", "https://MEDIA.example.net/v.mp4", "https://www.example.com/v.mp4"},
		{"foreign host untouched", "https://images.other.org/a.jpg", "https://images.other.org/a.jpg"},
		{"protocol relative", "//example.com/a.jpg", "https://www.example.com/a.jpg"},
		{"data url", "data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.raw); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestMediaResolver_NoCanonicalHost(t *testing.T) {
	r := MediaResolver{BaseURL: "http://localhost:3000"}
	if got := r.Resolve("http://example.com/a.jpg"); got != "http://example.com/a.jpg" {
		t.Errorf("got %q", got)
	}
}
