// Package config loads and saves the lumen-fw configuration file.
//
// The file is YAML and lives at $XDG_CONFIG_HOME/lumen/lumen-fw.yaml
// unless --config names another path. A missing file means defaults; a
// partial file is completed from the defaults and then validated as a
// whole, with every problem reported at once.
//
// The file never holds network credentials. Those live in the credential
// region named by storage.path, in its own binary format. The optional
// mqtt.password is the one secret here, so files are written 0600.
package config
