package pecompile

import "github.com/jward/pecompile/internal/synth"

// Version is the pecompile release.
const Version = "0.3.0"

// Targets lists the backends Compile accepts.
func Targets() []string {
	return append([]string(nil), synth.Targets...)
}
