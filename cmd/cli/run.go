package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"shelfarm"
)

type RunCommand struct {
	ConfigOptions
	Flow string `short:"f" long:"flow" default:"retrieve" choice:"retrieve" choice:"return" description:"Task to run"`
	Port string `short:"p" long:"port" description:"Override the configured serial port"`
	Args struct {
		Part string `positional-arg-name:"part" required:"yes"`
	} `positional-args:"yes"`
}

func (c *RunCommand) Execute(args []string) error {
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	if c.Port != "" {
		cfg.Port = c.Port
	}
	if cfg.Port == "" {
		return fmt.Errorf("no port configured; pass --port or set port in %s", c.Config)
	}
	flow, err := shelfarm.ParseFlow(c.Flow)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	svc, err := shelfarm.NewPickPlace(ctx, serviceName, cfg, shelfarm.NewChannelRegistry(nil), logger)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	var report *shelfarm.ExecutionReport
	if flow == shelfarm.Return {
		report, err = svc.ReturnPart(ctx, c.Args.Part)
	} else {
		report, err = svc.Retrieve(ctx, c.Args.Part)
	}
	if err != nil {
		var execErr *shelfarm.ExecutionError
		if errors.As(err, &execErr) {
			fmt.Println(errorStyle.Render(fmt.Sprintf("stopped in %s after %d commands", execErr.Phase, execErr.Sent)))
		}
		return err
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("%s %s: %d commands, %d actions", flow, report.PartID, report.CommandsSent, report.ActionsRun)))
	for _, w := range report.Weights {
		fmt.Println(dimStyle.Render("weight: " + strings.Join(w, " ")))
	}
	return nil
}
