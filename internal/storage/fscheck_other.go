//go:build !darwin && !linux

package storage

import "errors"

func mountType(string) (string, error) {
	return "", errors.New("mount type unknown on this platform")
}
