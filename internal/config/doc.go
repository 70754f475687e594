// Package config loads and validates the wsinspect server configuration.
//
// Values are layered, lowest precedence first:
//
//  1. Built-in defaults (Default): port 8000,
//     raw frame decoding, a fixed "Oh hey dude!" acknowledgement.
//  2. A YAML file, either given explicitly or found at the platform
//     configuration path (GetConfigPath).
//  3. A dotenv file read with godotenv. It never overrides variables already
//     present in the process environment.
//  4. Environment variables: WSINSPECT_* and the plain HOST and PORT.
//  5. Command line flags, applied by cmd/wsinspect after Load returns.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/wsinspect/config.yaml or $HOME/.config/wsinspect/config.yaml
//   - macOS: $HOME/.config/wsinspect/config.yaml
//   - Windows: %LOCALAPPDATA%\wsinspect\config.yaml
//
// # Usage Example
//
//	cfg, err := config.Load(config.LoadOptions{ConfigPath: path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    var verr *config.ValidationError
//	    if errors.As(err, &verr) {
//	        log.Fatalf("bad %s", verr.Field)
//	    }
//	}
//
// Save writes through a temporary file and a rename so a crash never leaves
// a truncated file behind.
package config
