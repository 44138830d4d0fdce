//go:build !linux

package progress

import "os"

func terminalWidth(*os.File) (int, bool) { return 0, false }
