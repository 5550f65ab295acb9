package fileops

import "testing"

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0.0B"},
		{512, "512.0B"},
		{1536, "1.5KiB"},
		{15 * 1024 * 1024, "15.0MiB"},
		{3 << 30, "3.0GiB"},
	}
	for _, tt := range tests {
		if got := HumanSize(tt.n); got != tt.want {
			t.Errorf("HumanSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestIconClass(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"report.pdf", "bi bi-filetype-pdf"},
		{"photo.jpg", "bi bi-filetype-jpg"},
		{"photo.jpeg", "bi bi-file-earmark"},
		{"archive.zip", "bi bi-file-earmark"},
		{"README", "bi bi-file-earmark"},
		{".bashrc", "bi bi-file-earmark"},
	}
	for _, tt := range tests {
		if got := IconClass(tt.name); got != tt.want {
			t.Errorf("IconClass(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
