package device

import "runtime"

// CurrentPlatform reports the local operating system family.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "android":
		return PlatformAndroid
	case "ios":
		return PlatformIOS
	case "js":
		return PlatformWeb
	default:
		return PlatformLinux
	}
}
