package version

// Version is the release version reported at startup
const Version = "0.1.0"
