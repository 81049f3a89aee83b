//go:build !windows

package winenv

import "fmt"

func readTheme() (Theme, error) {
	return Theme{}, fmt.Errorf("theme registry is only available on windows")
}

func setStartup(appName, exePath string, enabled bool) error {
	return fmt.Errorf("startup registry is only available on windows")
}

func isStartupEnabled(appName string) (bool, error) {
	return false, fmt.Errorf("startup registry is only available on windows")
}
