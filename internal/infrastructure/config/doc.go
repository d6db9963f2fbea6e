// Package config handles loading and validating devicelive configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The live-channel token should be set via DEVICELIVE_LIVE_TOKEN, not the file
//   - The config file should have restricted permissions (0600)
//
// Durations are Go duration strings ("1500ms", "10s"). API timeouts stay
// in whole seconds.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Live.URL)
package config
