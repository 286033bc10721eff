package build

// CurrentCommit is set by the build system via -ldflags.
var CurrentCommit string

// BuildVersion is the local build version
const BuildVersion = "1.0.1"

func UserVersion() string {
	return BuildVersion + CurrentCommit
}
