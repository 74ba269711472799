package version

import "fmt"

var (
	// AppName of the application
	AppName = "SyftSync"

	// Version of the application
	Version = "0.2.0-dev"

	// Revision is the git commit hash of the build
	Revision = "HEAD"

	// BuildDate of the application
	BuildDate = ""
)

func Detailed() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

func DetailedWithApp() string {
	return fmt.Sprintf("%s %s", AppName, Detailed())
}
