//go:build !linux
// +build !linux

package segment

import "os"

// adviseSequential is a no-op outside Linux; Fadvise has no portable
// equivalent.
func adviseSequential(f *os.File) {}
