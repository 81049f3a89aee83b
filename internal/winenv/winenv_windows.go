//go:build windows

package winenv

import (
	"golang.org/x/sys/windows/registry"
)

const (
	personalizeKey = `Software\Microsoft\Windows\CurrentVersion\Themes\Personalize`
	dwmKey         = `Software\Microsoft\Windows\DWM`
	runKey         = `Software\Microsoft\Windows\CurrentVersion\Run`
)

func readTheme() (Theme, error) {
	var t Theme

	pk, err := registry.OpenKey(registry.CURRENT_USER, personalizeKey, registry.QUERY_VALUE)
	if err != nil {
		return t, err
	}
	defer pk.Close()

	if v, _, err := pk.GetIntegerValue("AppsUseLightTheme"); err == nil {
		t.AppsUseLightTheme = v != 0
	}
	if v, _, err := pk.GetIntegerValue("SystemUsesLightTheme"); err == nil {
		t.SystemUsesLightTheme = v != 0
	}

	if dk, err := registry.OpenKey(registry.CURRENT_USER, dwmKey, registry.QUERY_VALUE); err == nil {
		defer dk.Close()
		if v, _, err := dk.GetIntegerValue("ColorizationColor"); err == nil {
			t.ColorizationColor = uint32(v)
		}
	}

	return t, nil
}

func setStartup(appName, exePath string, enabled bool) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKey, registry.SET_VALUE|registry.QUERY_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()

	if !enabled {
		err := k.DeleteValue(appName)
		if err == registry.ErrNotExist {
			return nil
		}
		return err
	}
	return k.SetStringValue(appName, exePath)
}

func isStartupEnabled(appName string) (bool, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKey, registry.QUERY_VALUE)
	if err != nil {
		return false, err
	}
	defer k.Close()

	_, _, err = k.GetStringValue(appName)
	if err == registry.ErrNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
