// Command loom manages schema-driven MySQL tables: validate schema
// documents, synchronize table structure, and describe composed
// schemas.
package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/skothari-dev/loom/pkg/loom"
)

const version = "1.0.0"

// CLI defines the command-line interface for loom.
var CLI struct {
	Config string `name:"config" short:"c" default:"loom.yaml" help:"Path to the YAML config file" type:"path"`

	Validate ValidateCmd `cmd:"" help:"Validate schema documents"`
	Sync     SyncCmd     `cmd:"" help:"Synchronize database tables with their schemas"`
	Describe DescribeCmd `cmd:"" help:"Print the composed schema for a model"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// ValidateCmd checks one or more schema compositions for problems.
type ValidateCmd struct {
	Models []string `arg:"" help:"Model names; combine with '+' (e.g. news+articles)"`
}

func (c *ValidateCmd) Run(engine *loom.Engine) error {
	sess := engine.Session()
	failed := 0
	for _, model := range c.Models {
		names := strings.Split(model, "+")
		problems, err := engine.ValidateSchema(sess, names)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", model, err)
		}
		if len(problems) == 0 {
			fmt.Printf("%s: ok\n", model)
			continue
		}
		failed++
		fmt.Printf("%s: %d problems\n", model, len(problems))
		for _, p := range problems {
			fmt.Printf("  - %v\n", p)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d schemas failed validation", failed, len(c.Models))
	}
	return nil
}

// SyncCmd reconciles database tables with their schemas.
type SyncCmd struct {
	Models []string `arg:"" help:"Model names; combine with '+' (e.g. news+articles)"`
	Mode   string   `name:"mode" default:"info" enum:"info,alert,auto" help:"info prints the diff, alert asks, auto executes"`
	Yes    bool     `name:"yes" short:"y" help:"Confirm pending actions in alert mode"`
	Create bool     `name:"create" default:"true" negatable:"" help:"Create missing tables"`
	Update bool     `name:"update" default:"true" negatable:"" help:"Alter existing tables"`
}

func (c *SyncCmd) Run(engine *loom.Engine) error {
	sess := engine.Session()
	ctx := context.Background()

	for _, model := range c.Models {
		names := strings.Split(model, "+")
		report, err := engine.Sync(ctx, sess, names, loom.SyncOptions{
			Create:    c.Create,
			Update:    c.Update,
			Mode:      ddlMode(c.Mode),
			Confirmed: c.Yes,
		})
		if err != nil {
			return fmt.Errorf("sync of %s failed: %w", model, err)
		}

		fmt.Printf("%s:\n", model)
		for _, msg := range report.Messages {
			fmt.Printf("  %s\n", msg)
		}
		if report.Executed {
			fmt.Printf("  executed %d statements\n", len(report.Actions))
		} else if len(report.Actions) > 0 && c.Mode == "alert" {
			fmt.Printf("  %d pending actions; re-run with --yes to execute\n", len(report.Actions))
		}
	}
	return nil
}

// DescribeCmd prints the composed schema for a model.
type DescribeCmd struct {
	Model string `arg:"" help:"Model name; combine with '+' (e.g. news+articles)"`
}

func (c *DescribeCmd) Run(engine *loom.Engine) error {
	sess := engine.Session()
	s, err := engine.GetSchema(sess, strings.Split(c.Model, "+"))
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", c.Model, err)
	}

	fmt.Printf("schema %s (table %s)\n", s.Name, s.Table)
	for _, f := range s.Fields {
		origin := ""
		if sources := s.Provenance[f.Name]; len(sources) > 1 {
			origin = " [" + strings.Join(sources, " < ") + "]"
		}
		fmt.Printf("  %-24s %s%s\n", f.Name, f.Type, origin)
	}
	if len(s.Filters) > 0 {
		keys := make([]string, 0, len(s.Filters))
		for k := range s.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Printf("  filters: %s\n", strings.Join(keys, ", "))
	}
	for _, term := range s.Order {
		dir := "ASC"
		if term.Descending {
			dir = "DESC"
		}
		fmt.Printf("  order: %s %s\n", term.Column, dir)
	}
	return nil
}

func ddlMode(mode string) loom.SyncMode {
	switch mode {
	case "auto":
		return loom.SyncAuto
	case "alert":
		return loom.SyncAlert
	default:
		return loom.SyncInfo
	}
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("loom %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("loom"),
		kong.Description("Schema-driven MySQL table and query engine"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	if ctx.Command() == "version" {
		ctx.FatalIfErrorf(ctx.Run())
		return
	}

	cfg, err := loom.LoadConfig(CLI.Config)
	ctx.FatalIfErrorf(err)

	engine, err := loom.New(context.Background(), cfg)
	ctx.FatalIfErrorf(err)
	defer engine.Close()

	ctx.FatalIfErrorf(ctx.Run(engine))
}
