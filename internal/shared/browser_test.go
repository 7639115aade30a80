package shared

import "testing"

func TestBrowserCommand(t *testing.T) {
	tt := []struct {
		goos    string
		want    string
		wantErr bool
	}{
		{goos: "darwin", want: "open"},
		{goos: "linux", want: "xdg-open"},
		{goos: "windows", want: "rundll32"},
		{goos: "plan9", wantErr: true},
	}

	for _, tc := range tt {
		t.Run(tc.goos, func(t *testing.T) {
			argv, err := browserCommand(tc.goos, "http://127.0.0.1:8888/login")
			if tc.wantErr {
				if err == nil {
					t.Error("expected error for unsupported platform")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if argv[0] != tc.want {
				t.Errorf("expected %s, got %s", tc.want, argv[0])
			}
			if argv[len(argv)-1] != "http://127.0.0.1:8888/login" {
				t.Errorf("expected url as last argument, got %v", argv)
			}
		})
	}
}
