//go:build !linux && !darwin

package sysinfo

import "errors"

func getDiskInfo(dir string, metrics *Metrics) error {
	return errors.New("disk usage is not supported on this platform")
}
