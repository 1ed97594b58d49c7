// Package config handles YAML configuration loading for the bridge runtime.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// A .env file in the working directory is loaded first when present, so local runs
// can keep credentials out of the YAML.
package config
