// Package config loads grundgraph settings.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file, and GRUNDGRAPH_* environment variables. A .env file in
// the working directory is loaded into the environment first.
package config
