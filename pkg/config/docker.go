package config

import (
	"os"
	"sync"
)

// DockerHostAlias is the name Docker Desktop resolves to the host machine.
const DockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether the process runs inside a Docker container,
// detected by /.dockerenv. The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker returns the host to dial for a connector backend.
// Inside Docker, loopback addresses point at the container itself, so they are
// rewritten to DockerHostAlias to reach databases running on the host machine.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return DockerHostAlias
	}
	return host
}
