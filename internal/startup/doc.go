// Package startup owns process initialization: environment
// configuration, directory validation, the startup banner, and build
// information. Everything the coordinator core consumes arrives through
// the Config produced here.
package startup
