package build

// Release identifies which build configuration the binary was compiled
// with. It gates the panic-on-Critical behavior used for chunk table
// sanity checks and picks Select's Var branch. Production builds should
// set this to "standard" via -ldflags; it defaults to "testing" so
// invariant violations surface as test failures instead of silent stderr
// warnings.
var Release = "testing"

// DEBUG, when true, turns Critical into a panic instead of a stderr
// warning.
var DEBUG = true
