// Package version holds build metadata reported by the status page.
package version

// Build is set at link time:
//
//	go build -ldflags "-X github.com/zeventbooks/eventdb/internal/version.Build=$(git describe --tags)"
var Build = "dev"

// Contract is the version of the response envelope and page payloads.
const Contract = "1.0.0"
