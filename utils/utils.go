package utils

import (
	"fmt"
	"os"
	"path/filepath"

	sockaddr "github.com/hashicorp/go-sockaddr"
)

// EnsurePath is used to make sure a path exists
func EnsurePath(path string, dir bool) error {
	if !dir {
		path = filepath.Dir(path)
	}
	return os.MkdirAll(path, 0755)
}

// AdvertisedHost returns host, or the first private IP of this machine when host is empty
func AdvertisedHost(host string) (string, error) {
	if host != "" {
		return host, nil
	}
	ip, err := sockaddr.GetPrivateIP()
	if err != nil {
		return "", fmt.Errorf("could not get private IP: %w", err)
	}
	if ip == "" {
		return "", fmt.Errorf("no private IP found, set the listener host explicitly")
	}
	return ip, nil
}
