package commands

import "testing"

func TestHumanRate(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B/s"},
		{512, "512 B/s"},
		{1023, "1023 B/s"},
		{1024, "1.0 KB/s"},
		{1536, "1.5 KB/s"},
		{1024 * 1024, "1.0 MB/s"},
		{5 * 1024 * 1024, "5.0 MB/s"},
		{3 * 1024 * 1024 * 1024, "3.0 GB/s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := humanRate(tt.in); got != tt.want {
				t.Errorf("humanRate(%d) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
