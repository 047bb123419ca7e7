package common

// PackageName is the service name used in logs and metrics.
const PackageName = "docsafe"

// Version is set at build time via -ldflags.
var Version = "dev"
