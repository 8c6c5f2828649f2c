package miner

import "testing"

func TestURIRoundTrip(t *testing.T) {
	paths := []string{"/home/u/notes.txt", "/home/u/with space/ä.txt", "/tmp/100%/x#y"}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			uri := URIFromPath(p)
			got, err := PathFromURI(uri)
			if err != nil {
				t.Fatalf("PathFromURI(%q) error = %v", uri, err)
			}
			if got != p {
				t.Errorf("round trip = %q, want %q", got, p)
			}
		})
	}
}

func TestPathFromURI(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "file:///a/b/../c", want: "/a/c"},
		{in: "/a/b/", want: "/a/b"},
		{in: "http://example.com/a", wantErr: true},
		{in: "file:", wantErr: true},
		{in: "relative/path", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := PathFromURI(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("PathFromURI(%q) = %q, expected error", tt.in, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("PathFromURI(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestIsUnder(t *testing.T) {
	tests := []struct {
		path, dir string
		want      bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b/c", "/a/b", true},
		{"/a/bc", "/a/b", false},
		{"/a", "/a/b", false},
		{"/x", "/", true},
	}
	for _, tt := range tests {
		if got := IsUnder(tt.path, tt.dir); got != tt.want {
			t.Errorf("IsUnder(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
		}
	}
	if got := Reparent("/a/b/c.txt", "/a/b", "/z"); got != "/z/c.txt" {
		t.Errorf("Reparent() = %q", got)
	}
}
