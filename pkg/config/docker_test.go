package config

import "testing"

func TestResolveHostForDocker_RemoteHostsUnchanged(t *testing.T) {
	for _, host := range []string{"mydb.example.com", "192.168.1.100", DockerHostAlias} {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestResolveHostForDocker_Loopback(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1", "::1"} {
		got := ResolveHostForDocker(host)
		want := host
		if IsRunningInDocker() {
			want = DockerHostAlias
		}
		if got != want {
			t.Errorf("ResolveHostForDocker(%q) = %q, want %q", host, got, want)
		}
	}
}
