// Package config defines configuration for the streamdl CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (STREAMDL_ prefix)
//   - YAML configuration file
//
// Flags win over the environment, which wins over the file. Sizes accept
// suffixes such as "512KB" or "4MiB"; a chunk size of "unbounded" (or 0)
// fetches the rest of the resource in one request.
package config
