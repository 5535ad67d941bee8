package main

import "testing"

func TestIsVirtualInterface(t *testing.T) {
	tests := []struct {
		name    string
		virtual bool
	}{
		{"lo", true},
		{"lo0", true},
		{"veth1a2b3c", true},
		{"docker0", true},
		{"br-4f8a", true},
		{"virbr0", true},
		{"utun3", true},
		{"awdl0", true},
		{"llw0", true},
		{"LO", true},
		{"eth0", false},
		{"enp3s0", false},
		{"ens18", false},
		{"wlan0", false},
		{"bond0", false},
		{"em0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isVirtualInterface(tt.name); got != tt.virtual {
				t.Errorf("isVirtualInterface(%q) = %v, want %v", tt.name, got, tt.virtual)
			}
		})
	}
}
