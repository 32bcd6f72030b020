package port_reader

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
)

var portPatterns = map[string][]string{
	"linux":   {"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyAMA*", "/dev/ttyS*"},
	"darwin":  {"/dev/cu.*", "/dev/tty.usb*"},
	"freebsd": {"/dev/cuaU*", "/dev/cuau*"},
}

// ListPorts returns candidate serial devices on this machine.
// On Windows every COM port that opens is reported.
func ListPorts(opener Opener) []string {
	if runtime.GOOS == "windows" {
		return probeComPorts(opener, 256)
	}
	return globPorts(portPatterns[runtime.GOOS])
}

func globPorts(patterns []string) []string {
	seen := map[string]bool{}
	var ports []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				ports = append(ports, m)
			}
		}
	}
	sort.Strings(ports)
	return ports
}

func probeComPorts(opener Opener, max int) []string {
	var ports []string
	for i := 1; i <= max; i++ {
		name := fmt.Sprintf("COM%d", i)
		port, err := opener.Open(name)
		if err != nil {
			continue
		}
		port.Close()
		ports = append(ports, name)
	}
	return ports
}
