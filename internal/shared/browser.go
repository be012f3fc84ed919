package shared

import (
	"fmt"
	"os/exec"
	"runtime"
)

var getRuntime = func() string { return runtime.GOOS }

// Opener hands a URL to something outside the process (a browser, a desktop app).
type Opener func(url string) error

// OpenBrowser opens the default system URL handler for the specified URL.
//
// Supports macOS, Linux, and Windows platforms.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch rt := getRuntime(); rt {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", rt)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

// LaunchWith returns an [Opener] that runs bin with the URL as its only argument.
func LaunchWith(bin string) Opener {
	return func(url string) error {
		if err := exec.Command(bin, url).Start(); err != nil {
			return fmt.Errorf("failed to launch %s: %w", bin, err)
		}
		return nil
	}
}

// Installed reports whether bin resolves on PATH.
func Installed(bin string) bool {
	if bin == "" {
		return false
	}
	_, err := exec.LookPath(bin)
	return err == nil
}
