// Package config provides configuration management using Viper.
//
// Loads and validates SmartRAG's configuration from YAML files with
// support for multiple config locations and default values.
package config
