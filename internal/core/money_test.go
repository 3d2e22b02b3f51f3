package core

import "testing"

func TestParseDecimalToCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12.34", 1234, false},
		{"12,34", 1234, false},
		{"0.01", 1, false},
		{"7", 700, false},
		{"12.345", 1234, false}, // rounds down
		{"12.346", 1235, false}, // rounds up
		{" 5.50 ", 550, false},
		{"", 0, true},
		{"0", 0, true},
		{"0.00", 0, true},
		{"-3.50", 0, true},
		{"+3.50", 0, true},
		{"abc", 0, true},
		{"1.2.3", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDecimalToCents(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDecimalToCents(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDecimalToCents(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestMoney_DecimalString(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{1234, "12.34"},
		{1, "0.01"},
		{700, "7.00"},
		{-550, "-5.50"},
	}

	for _, tt := range tests {
		if got := (Money{Cents: tt.cents}).DecimalString(); got != tt.want {
			t.Errorf("Money{%d}.DecimalString() = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
