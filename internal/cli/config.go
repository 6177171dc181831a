package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/session"
)

var configYAML bool

var configCmd = &cobra.Command{
	Use:   "config [environment]",
	Short: "Show the effective configuration",
	Long: `Merge and validate the configuration of an environment and print it.

Without an environment only the defaults are loaded. The table lists every
token injected into the stacks; --yaml prints the environment section with
secret-named fields left out.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configYAML, "yaml", false, "Print the environment as YAML")
}

func runConfig(cmd *cobra.Command, args []string) error {
	environment := ""
	if len(args) > 0 {
		environment = args[0]
	}
	cfg, err := loadConfig(cmd.Context(), environment)
	if err != nil {
		return err
	}
	if configYAML {
		return renderYAML(cmd.OutOrStdout(), cfg)
	}
	return renderTokens(cmd.OutOrStdout(), cfg.Tokens())
}

// loadConfig merges and validates the configuration for environment.
func loadConfig(ctx context.Context, environment string) (*config.Config, error) {
	cfg, err := config.Load(ctx, config.LoadOptions{
		Dir:             current.ConfigDir,
		Environment:     environment,
		HostEnvironment: current.Environment,
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func renderTokens(w io.Writer, tokens []config.Token) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := color.New(color.FgWhite, color.Underline)
	fmt.Fprintf(tw, "%s\t%s\n", header.Sprint("TOKEN"), header.Sprint("VALUE"))
	for _, t := range tokens {
		fmt.Fprintf(tw, "%s\t%s\n", t.Key, config.ValueString(t.Value))
	}
	return tw.Flush()
}

func renderYAML(w io.Writer, cfg *config.Config) error {
	doc := struct {
		Environment config.EnvironmentConfig `yaml:"Environment"`
	}{cfg.Environment}

	var node yaml.Node
	if err := node.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	redact(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return enc.Close()
}

// redact drops secret-named mapping entries and quotes account ids, which
// YAML would otherwise read back as numbers.
func redact(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		content := n.Content[:0]
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if session.IsSecretKey(key.Value) {
				continue
			}
			if key.Value == "AccountId" && value.Kind == yaml.ScalarNode {
				value.Tag = "!!str"
				value.Style = yaml.DoubleQuotedStyle
			}
			content = append(content, key, value)
		}
		n.Content = content
	}
	for _, c := range n.Content {
		redact(c)
	}
}
