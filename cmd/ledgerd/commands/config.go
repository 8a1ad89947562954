package commands

import (
	"github.com/zacharyzhang1208/COMP5567-Project/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Ledgerd config.Config `mapstructure:",squash"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Ledgerd: *config.NewDefaultConfig(),
	}
}
