package platform

// Package platform contains OS integration and external tooling glue:
// supervised processes with tree-wide termination, the yt-dlp output parser,
// tool path resolution and filesystem helpers.
