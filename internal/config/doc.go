// Package config defines how stagegrid is configured.
//
// Two kinds of configuration exist. A workflow file describes what to build
// and is read by a Loader implementation (see the loader package). A settings
// file describes where to build it: the platform API, the project and folder
// for each region, environment and object kind, and the optional journal,
// event and tracing sinks. Settings are read with viper and may be overridden
// through STAGEGRID_* environment variables.
package config
