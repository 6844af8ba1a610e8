package types

// Version is the canonical project version shared by the CLI and the
// IPC protocol. Both roles run the same executable, so the wire schema
// is versionless and tied to this constant.
const Version = "0.3.0"
