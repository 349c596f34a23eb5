// Package logging provides file-based structured logging with rotation for
// the Mnemosyne daemon. Logs are written as JSON lines to ~/.mnemosyne/logs/
// with size-based rotation, optionally teed to stderr.
package logging
