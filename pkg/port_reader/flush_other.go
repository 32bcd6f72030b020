//go:build !linux

package port_reader

// Other platforms keep whatever is buffered; the decoder drops the partial first line.
func flushFd(fd uintptr) error {
	return nil
}
