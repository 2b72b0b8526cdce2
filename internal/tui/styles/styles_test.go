package styles

import (
	"strings"
	"testing"
)

func TestBucketColor(t *testing.T) {
	tests := []struct {
		bucket   string
		expected string // Expected color hex value
	}{
		{"pending", "#9CA3AF"},
		{"ready", "#60A5FA"},
		{"running", "#10B981"},
		{"completed", "#A78BFA"},
		{"failed", "#F87171"},
		{"skipped", "#FB923C"},
		{"unknown", "#9CA3AF"}, // Should fall back to MutedColor
	}

	for _, tt := range tests {
		t.Run(tt.bucket, func(t *testing.T) {
			got := BucketColor(tt.bucket)
			if string(got) != tt.expected {
				t.Errorf("BucketColor(%q) = %q, want %q", tt.bucket, got, tt.expected)
			}
		})
	}
}

func TestBucketIcon(t *testing.T) {
	tests := []struct {
		bucket   string
		expected string
	}{
		{"pending", "○"},
		{"ready", "◌"},
		{"running", "●"},
		{"completed", "✓"},
		{"failed", "✗"},
		{"skipped", "⊘"},
		{"unknown", "●"},
	}

	for _, tt := range tests {
		t.Run(tt.bucket, func(t *testing.T) {
			if got := BucketIcon(tt.bucket); got != tt.expected {
				t.Errorf("BucketIcon(%q) = %q, want %q", tt.bucket, got, tt.expected)
			}
		})
	}
}

func TestHintColor(t *testing.T) {
	if got := HintColor("error"); got != ErrorColor {
		t.Errorf("HintColor(error) = %q, want %q", got, ErrorColor)
	}
	if got := HintColor("warning"); got != WarningColor {
		t.Errorf("HintColor(warning) = %q, want %q", got, WarningColor)
	}
	if got := HintColor("info"); got != BlueColor {
		t.Errorf("HintColor(info) = %q, want %q", got, BlueColor)
	}
}

func TestBucket(t *testing.T) {
	if got := Bucket("failed", "core"); !strings.Contains(got, "core") {
		t.Errorf("Bucket() = %q, want it to contain the text", got)
	}
}
