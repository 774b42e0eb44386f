// Package application provides application initialization and dependency wiring.
// It selects the pack size registry backend, builds the calculator, metrics,
// handlers and routers, and assembles the HTTP server, keeping the main
// package focused on CLI parsing and orchestration.
package application
