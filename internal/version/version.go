// Package version contains build and service identity information.
package version

// ServiceName identifies the service in health responses and logs.
const ServiceName = "erp-incident-triage-api"

// Version is the current application version.
// Set at build time via ldflags.
var Version = "0.0.0"

// GitCommit is the git commit hash.
// Set at build time via ldflags.
var GitCommit = "unknown"

// BuildDate is the build date.
// Set at build time via ldflags.
var BuildDate = "unknown"

// Info returns the build metadata served by the version endpoint.
func Info() map[string]string {
	return map[string]string{
		"service":    ServiceName,
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
	}
}
