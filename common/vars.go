package common

// PackageName is used as the metrics namespace.
const PackageName = "device_provisioning"

// Version is overridden at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"
