package main

import "testing"

func TestDialTarget(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		address string
		want    string
	}{
		"empty":          {address: "", want: "localhost"},
		"port_only":      {address: ":43128", want: "localhost:43128"},
		"ipv4_any":       {address: "0.0.0.0:9000", want: "localhost:9000"},
		"ipv4_local":     {address: "127.0.0.1:43128", want: "127.0.0.1:43128"},
		"ipv6_any":       {address: "[::]:43128", want: "localhost:43128"},
		"ipv6_custom":    {address: "[2001:db8::1]:43128", want: "[2001:db8::1]:43128"},
		"host_without_p": {address: "replay.internal", want: "replay.internal"},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := dialTarget(tc.address); got != tc.want {
				t.Fatalf("dialTarget(%q) = %q, want %q", tc.address, got, tc.want)
			}
		})
	}
}

func TestOpsURL(t *testing.T) {
	if got := opsURL(":43129"); got != "http://localhost:43129" {
		t.Fatalf("unexpected ops url %q", got)
	}
}
