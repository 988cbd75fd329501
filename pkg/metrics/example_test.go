package metrics_test

import (
	"fmt"

	"github.com/bitechdev/TopicSpec/pkg/metrics"
)

// ExampleNewPrometheusProvider_default demonstrates using default configuration
func ExampleNewPrometheusProvider_default() {
	provider := metrics.NewPrometheusProvider(nil)
	metrics.SetProvider(provider)
	defer metrics.SetProvider(nil)

	fmt.Println("Provider initialized with defaults")
	// Output: Provider initialized with defaults
}

// ExampleDefaultConfig demonstrates getting default configuration
func ExampleDefaultConfig() {
	config := metrics.DefaultConfig()
	fmt.Printf("Default provider: %s\n", config.Provider)
	fmt.Printf("Default enabled: %v\n", config.Enabled)
	// Output:
	// Default provider: prometheus
	// Default enabled: true
}

// ExampleConfig_ApplyDefaults demonstrates applying defaults to partial config
func ExampleConfig_ApplyDefaults() {
	config := &metrics.Config{
		Namespace: "myapp",
	}

	config.ApplyDefaults()

	fmt.Printf("Provider: %s\n", config.Provider)
	fmt.Printf("Namespace: %s\n", config.Namespace)
	// Output:
	// Provider: prometheus
	// Namespace: myapp
}
