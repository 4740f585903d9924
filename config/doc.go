// Package config provides the named-option surface read by plugins at setup.
//
// Options are flat dotted keys such as "profiler.jdbc.sqlite.commit". They can
// come from a properties file, a YAML file (nested maps are flattened) or the
// environment. Reads always name a default, and configuration problems never
// abort setup: an unreadable file or an unparsable value logs a warning and
// the default is used.
package config
