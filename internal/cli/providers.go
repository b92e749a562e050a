package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/statemade/diffreview/internal/providers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List providers and check credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tCREDENTIALS\tSETTINGS")
		for _, info := range knownProviders {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.Credentials, info.Settings)
		}
		return tw.Flush()
	},
}

type providerInfo struct {
	Name        string
	Credentials string
	Settings    string
}

var knownProviders = []providerInfo{
	{"azure", "OPEN_AI_AZURE_KEY", "endpoint (OPEN_AI_AZURE_ENDPOINT), model = deployment (OPEN_AI_AZURE_DEPLOYMENT_ID)"},
	{"openai", "OPENAI_API_KEY", "model, endpoint or DIFFREVIEW_OPENAI_BASE_URL"},
	{"anthropic", "ANTHROPIC_API_KEY", "model"},
	{"gemini", "GEMINI_API_KEY or GOOGLE_API_KEY", "model"},
	{"ollama", "DIFFREVIEW_OLLAMA_API_KEY (optional)", "model, endpoint or OLLAMA_HOST"},
	{"lmstudio", "DIFFREVIEW_OLLAMA_API_KEY (optional)", "model, endpoint or OLLAMA_HOST"},
}

var providersCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate provider credentials with a short streamed request",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{
			"provider": "provider",
			"model":    "model",
			"endpoint": "endpoint",
		})
		if err != nil {
			return exitWith(cmd, ExitUsageError, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Checking %s...\n", cfg.Provider)

		p, err := providers.New(providers.Config{
			Provider:   cfg.Provider,
			Model:      cfg.Model,
			Endpoint:   cfg.Endpoint,
			APIVersion: cfg.APIVersion,
		})
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %v\n", err)
			exitCode = ExitAuthError
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var reply strings.Builder
		for ev := range p.Stream(ctx, providers.StreamRequest{
			Messages: []providers.Message{
				{Role: providers.RoleSystem, Content: "Respond with exactly: ok"},
				{Role: providers.RoleUser, Content: "ping"},
			},
			MaxTokens: 10,
		}) {
			if ev.Err != nil {
				err = ev.Err
				continue
			}
			reply.WriteString(ev.Text())
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %v\n", err)
			if providers.IsAuthError(err) {
				exitCode = ExitAuthError
			} else {
				exitCode = ExitRuntimeError
			}
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "OK: %s is configured and responding (%q)\n", p.Name(), strings.TrimSpace(reply.String()))
		return nil
	},
}

func init() {
	providersCmd.AddCommand(providersCheckCmd)
	f := providersCheckCmd.Flags()
	f.String("provider", "azure", "Provider to check")
	f.String("model", "", "Model name, or deployment id for azure")
	f.String("endpoint", "", "Provider endpoint URL")
}
