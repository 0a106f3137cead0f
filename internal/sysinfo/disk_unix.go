//go:build linux || darwin

package sysinfo

import "syscall"

// getDiskInfo reads filesystem usage for dir
func getDiskInfo(dir string, metrics *Metrics) error {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return err
	}
	blockSize := uint64(st.Bsize)
	setDisk(metrics, st.Blocks*blockSize, st.Bavail*blockSize)
	return nil
}
