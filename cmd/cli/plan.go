package main

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"shelfarm"
)

type PlanCommand struct {
	ConfigOptions
	Flow     string `short:"f" long:"flow" default:"retrieve" choice:"retrieve" choice:"return" description:"Task to plan"`
	Commands bool   `long:"commands" description:"Print every serialized motor command"`
	Args     struct {
		Part string `positional-arg-name:"part" required:"yes"`
	} `positional-args:"yes"`
}

func (c *PlanCommand) Execute(args []string) error {
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	flow, err := shelfarm.ParseFlow(c.Flow)
	if err != nil {
		return err
	}

	// planning never opens the port
	cfg.Port = ""
	ctx := context.Background()
	svc, err := shelfarm.NewPickPlace(ctx, serviceName, cfg, shelfarm.NewChannelRegistry(nil), logger)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	prog, err := svc.Prepare(ctx, flow, c.Args.Part)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("Plan: %s %s", flow, c.Args.Part)))
	fmt.Println(renderProgram(prog))
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d segments, %d waypoints, %d motor commands",
		len(prog.Plan.Segments), prog.Plan.Waypoints(), prog.Commands())))

	if c.Commands {
		fmt.Println()
		for _, step := range prog.Steps {
			fmt.Println(dimStyle.Render("# " + step.Phase))
			for _, cmd := range step.Commands {
				fmt.Print(cmd.Line())
			}
		}
	}
	return nil
}

func renderProgram(prog *shelfarm.Program) string {
	rows := make([][]string, 0, len(prog.Plan.Segments))
	for i, seg := range prog.Plan.Segments {
		end := seg.End()
		actions := make([]string, 0, len(seg.Actions))
		for _, a := range seg.Actions {
			actions = append(actions, a.String())
		}
		var duration uint64
		for _, cmd := range prog.Steps[i].Commands {
			duration += cmd.DurationUS
		}
		rows = append(rows, []string{
			seg.Phase,
			seg.Mode.String(),
			fmt.Sprintf("%d", len(seg.Waypoints)),
			fmt.Sprintf("(%.0f, %.0f, %.0f)", end.Position.X, end.Position.Y, end.Position.Z),
			fmt.Sprintf("%.1f°", end.Orientation.Yaw()*180/math.Pi),
			fmt.Sprintf("%d", len(prog.Steps[i].Commands)),
			fmt.Sprintf("%.2fs", float64(duration)/1e6),
			strings.Join(actions, ", "),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Phase", "Mode", "Points", "End (mm)", "Yaw", "Cmds", "Time", "Actions").
		Rows(rows...).
		String()
}
