package syftsdk

import (
	"bytes"
	"os/exec"
	"runtime"
	"strings"
)

func osVersion() string {
	switch runtime.GOOS {
	case "darwin":
		return getMacOSVersion()
	case "linux":
		return getLinuxVersion()
	case "windows":
		return getWindowsVersion()
	default:
		return runtime.GOOS
	}
}

func getMacOSVersion() string {
	cmd := exec.Command("sw_vers", "-productVersion")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err == nil {
		return "macOS/" + strings.TrimSpace(out.String())
	}
	return "macOS"
}

func getLinuxVersion() string {
	cmd := exec.Command("uname", "-r")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err == nil {
		kernel := strings.TrimSpace(out.String())
		if data, err := exec.Command("lsb_release", "-si").Output(); err == nil {
			distro := strings.TrimSpace(string(data))
			return distro + "; kernel/" + kernel
		}
		return "Linux; kernel/" + kernel
	}
	return "Linux"
}

func getWindowsVersion() string {
	cmd := exec.Command("cmd", "/c", "ver")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err == nil {
		version := strings.TrimSpace(out.String())
		if strings.Contains(version, "[Version") {
			start := strings.Index(version, "[Version") + 9
			end := strings.Index(version[start:], "]")
			if end > 0 {
				return "Windows/" + version[start:start+end]
			}
		}
	}
	return "Windows"
}
