package main

import (
	"github.com/go-go-golems/chatstate/pkg/tools"
)

type WeatherInput struct {
	City string `json:"city" jsonschema:"description=City to report the weather of"`
}

type WeatherOutput struct {
	Temperature float64 `json:"temperature" jsonschema:"description=Temperature in degrees"`
	Unit        string  `json:"unit,omitempty" jsonschema:"enum=celsius,enum=fahrenheit"`
}

// builtinTools is the registry the scripted sessions validate tool payloads
// against.
func builtinTools() (*tools.Registry, error) {
	weather, err := tools.NewToolDefinition("weather", "Report the current weather of a city", WeatherInput{}, WeatherOutput{})
	if err != nil {
		return nil, err
	}
	r := tools.NewRegistry()
	if err := r.RegisterTool(weather); err != nil {
		return nil, err
	}
	return r, nil
}
