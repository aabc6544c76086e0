package meta

// VersionSHA is a build-time injected variable describing the Git commit SHA at which dnsroute was
// built. It is used as a general purpose, global version identifier.
var VersionSHA string

// Version returns VersionSHA, or "dev" for builds without an injected SHA.
func Version() string {
	if VersionSHA == "" {
		return "dev"
	}

	return VersionSHA
}
