package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/docchat/pkg/config"
	"github.com/xhad/docchat/pkg/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	provider   string
	model      string
	backend    string
	noStream   bool
}

func (o *rootOptions) override(cfg *config.Config) {
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.provider != "" {
		cfg.LLM.Provider = o.provider
	}
	if o.model != "" {
		cfg.LLM.Model = o.model
	}
	if o.backend != "" {
		cfg.Index.Backend = o.backend
	}
	if o.noStream {
		cfg.UI.Streaming = false
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with a document using a local or hosted language model",
		Long: `docchat answers questions about an uploaded document (PDF, text, markdown or HTML).
Without a document it behaves like a plain chatbot that remembers the conversation.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.provider, "provider", "", "LLM provider (ollama or openai)")
	flags.StringVar(&opts.model, "model", "", "LLM model to use")
	flags.StringVar(&opts.backend, "backend", "", "Index backend (memory or pgvector)")
	flags.BoolVar(&opts.noStream, "no-stream", false, "Disable streaming responses")

	cmd.AddCommand(newChatCommand(opts), newServeCommand(opts))
	return cmd
}

// load reads the config file with the flag overrides applied before
// defaults, then validates the result.
func (o *rootOptions) load() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.LoadConfig(o.configPath, o.override)
	if err != nil {
		return nil, nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, nil, errors.New("invalid configuration:\n  " + strings.Join(msgs, "\n  "))
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}
