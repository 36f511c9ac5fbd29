package storage

import "testing"

func TestURLFor(t *testing.T) {
	u := &Uploader{cfg: Config{Endpoint: "192.168.1.20:9000", Bucket: "bialerts"}}
	got := u.URLFor("alerts", "Yard_010226_160700.gif")
	want := "http://192.168.1.20:9000/bialerts/alerts/Yard_010226_160700.gif"
	if got != want {
		t.Fatalf("URLFor = %q, want %q", got, want)
	}

	u.cfg.UseSSL = true
	if got := u.URLFor("alerts", "a.gif"); got != "https://192.168.1.20:9000/bialerts/alerts/a.gif" {
		t.Fatalf("https URL = %q", got)
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"clip.GIF", "image/gif"},
		{"clip.mp4", "video/mp4"},
		{"frame.jpg", "image/jpeg"},
		{"frame.jpeg", "image/jpeg"},
		{"shot.png", "image/png"},
		{"clip.mov", "video/quicktime"},
		{"notes.txt", "application/octet-stream"},
	}
	for _, tc := range tests {
		if got := detectContentType(tc.path); got != tc.want {
			t.Errorf("detectContentType(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
