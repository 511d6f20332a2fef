// Package ui renders terminal output for lumen-cfg and lumen-fw.
//
// Components are rendered once and printed: a header naming the command,
// result boxes for success, warning and failure, a table of discovered
// fixtures and a firmware update progress view. Discovery is the one
// animated part; RunDiscovery shows a Bubble Tea spinner while the mDNS
// browse runs, and falls back to a silent scan when stdout is not a
// terminal.
//
// Logging is controlled by LUMEN_LOG_LEVEL. When it is unset the logger
// is silent in the operator tool so these components are all the
// operator sees.
package ui
