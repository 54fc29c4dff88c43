// Package server exposes job submission, progress streaming, search and graph
// exploration over HTTP.
package server
