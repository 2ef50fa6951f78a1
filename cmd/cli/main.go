package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/jessevdk/go-flags"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"

	"shelfarm"
)

type Options struct {
	Plan  PlanCommand  `command:"plan" description:"Plan a retrieve or return task and print the motor commands"`
	Run   RunCommand   `command:"run" description:"Connect to the controller and execute a task"`
	Ports PortsCommand `command:"ports" description:"List serial ports that may host the controller"`
}

// ConfigOptions is shared by commands that load a service config.
type ConfigOptions struct {
	Config string `short:"c" long:"config" default:"shelfarm.yaml" description:"YAML or JSON service config"`
	Debug  bool   `short:"d" long:"debug" description:"Enable debug logging"`
}

func (o ConfigOptions) load() (*shelfarm.Config, logging.Logger, error) {
	logger := logging.NewLogger("shelfarm-cli")
	if o.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	cfg, err := shelfarm.LoadConfigFile(o.Config)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var serviceName = resource.NewName(generic.API, "shelfarm-cli")

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "shelfarm - plan and run pick-and-place tasks on a stepper arm"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}
