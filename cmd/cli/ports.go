package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.viam.com/rdk/logging"

	"shelfarm"
)

type PortsCommand struct {
	Probe    bool   `long:"probe" description:"Attempt a handshake on each candidate port"`
	Baudrate int    `short:"b" long:"baudrate" default:"115200" description:"Baudrate used when probing"`
	Greeting string `long:"greeting" default:"HELLO" description:"Handshake greeting token"`
	Ack      string `long:"ack" default:"READY" description:"Handshake acknowledgement token"`
}

func (c *PortsCommand) Execute(args []string) error {
	logger := logging.NewLogger("shelfarm-ports")
	ports, err := shelfarm.DiscoverPorts(context.Background(), shelfarm.DiscoveryOptions{
		Probe:    c.Probe,
		Baudrate: c.Baudrate,
		Greeting: c.Greeting,
		Ack:      c.Ack,
	}, logger)
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println(dimStyle.Render("no candidate serial ports found"))
		return nil
	}

	rows := make([][]string, 0, len(ports))
	for _, p := range ports {
		responding := "-"
		if c.Probe {
			responding = fmt.Sprintf("%v", p.Responding)
		}
		rows = append(rows, []string{p.Name, p.VID, p.PID, p.Product, responding})
	}
	fmt.Println(table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("Port", "VID", "PID", "Product", "Responding").
		Rows(rows...).
		String())
	return nil
}
