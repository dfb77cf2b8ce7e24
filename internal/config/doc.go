// Package config loads revtree configuration from YAML.
//
// # Loading Configuration
//
// Load configuration from a YAML file:
//
//	cfg, err := config.LoadConfig("/etc/revtree/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    log.Fatal(errs[0])
//	}
//
// Keys that are absent keep the values of DefaultConfig. Unknown keys are
// rejected.
//
// # Environment Variables
//
// Values may reference the environment before the document is parsed:
//
//	store:
//	  path: ${REVTREE_DATA:-/var/lib/revtree}
//	  encryptionKeyFile: ${REVTREE_KEY}
//
// ${VAR} expands to the variable or the empty string; ${VAR:-default}
// expands to default when the variable is unset or empty.
//
// # Sizes
//
// cache.pageCacheBytes accepts plain byte counts and human sizes such as
// "64MiB" or "512 MB".
package config
