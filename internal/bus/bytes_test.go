package bus

import "testing"

func TestFormatBytes(t *testing.T) {
	i := func(v int64) *int64 { return &v }

	tests := []struct {
		name string
		in   *int64
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "zero", in: i(0), want: "0 B"},
		{name: "bytes", in: i(512), want: "512 B"},
		{name: "one kb", in: i(1024), want: "1 KB"},
		{name: "kb rounds", in: i(1536), want: "2 KB"},
		{name: "mb one decimal", in: i(1_572_864), want: "1.5 MB"},
		{name: "gb two decimals", in: i(1_610_612_736), want: "1.50 GB"},
		{name: "tb three decimals", in: i(1_649_267_441_664), want: "1.500 TB"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatBytes(tc.in); got != tc.want {
				t.Fatalf("FormatBytes = %q, want %q", got, tc.want)
			}
		})
	}
}
