// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the wiring of one build run, decoupled from
// any specific entrypoint like a CLI.
package app
