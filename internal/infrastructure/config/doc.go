// Package config handles loading and validating momcore configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MOMCORE_SECTION_KEY)
//   - Validation of required fields, reporting every problem at once
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and the InfluxDB token should be set via environment
//     variables rather than committed to the config file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Session.Namespace)
package config
