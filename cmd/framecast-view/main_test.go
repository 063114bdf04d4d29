package main

import (
	"net/url"
	"testing"
)

func TestDialURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    string
		world   string
		want    url.Values
		wantErr bool
	}{
		{name: "bare", base: "ws://localhost:8080/v1/viewers/ws", want: url.Values{}},
		{name: "with world", base: "wss://cast.example/ws", world: "nether", want: url.Values{"world": {"nether"}}},
		{name: "keeps existing query", base: "ws://h/ws?token=abc", world: "lobby", want: url.Values{"token": {"abc"}, "world": {"lobby"}}},
		{name: "bad scheme", base: "ftp://h/ws", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := dialURL(tt.base, "", "", tt.world, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("dialURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("parse %q: %v", got, err)
			}
			if u.Query().Encode() != tt.want.Encode() {
				t.Errorf("query = %q, want %q", u.Query().Encode(), tt.want.Encode())
			}
		})
	}
}
