package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/help"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loom-chat/loom/pkg/conversation"
	"github.com/loom-chat/loom/pkg/events"
	"github.com/loom-chat/loom/pkg/provider/factory"
	"github.com/loom-chat/loom/pkg/provider/settings"
	"github.com/loom-chat/loom/pkg/session"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Branching character chat with streaming generation",
}

type ChatCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*ChatCommand)(nil)

type ChatCommandSettings struct {
	ConfigDir     string `glazed.parameter:"config-dir"`
	Provider      string `glazed.parameter:"provider"`
	Conversation  string `glazed.parameter:"conversation"`
	CharacterName string `glazed.parameter:"character-name"`
	Personality   string `glazed.parameter:"personality"`
	NoStream      bool   `glazed.parameter:"no-stream"`
	Verbose       bool   `glazed.parameter:"verbose"`
	Prompt        string `glazed.parameter:"prompt"`
}

func NewChatCommand() (*ChatCommand, error) {
	description := cmds.NewCommandDescription(
		"chat",
		cmds.WithShort("Chat with a character, streaming tokens as they arrive"),
		cmds.WithArguments(
			parameters.NewParameterDefinition(
				"prompt",
				parameters.ParameterTypeString,
				parameters.WithHelp("Single prompt to run; omit to read prompts from stdin"),
			),
		),
		cmds.WithFlags(
			parameters.NewParameterDefinition("config-dir",
				parameters.ParameterTypeString,
				parameters.WithHelp("Directory holding provider configuration yaml files"),
				parameters.WithDefault(""),
			),
			parameters.NewParameterDefinition("provider",
				parameters.ParameterTypeString,
				parameters.WithHelp("Name of the provider configuration to use (default: first enabled)"),
				parameters.WithDefault(""),
			),
			parameters.NewParameterDefinition("conversation",
				parameters.ParameterTypeString,
				parameters.WithHelp("Conversation file to load and persist"),
				parameters.WithDefault(""),
			),
			parameters.NewParameterDefinition("character-name",
				parameters.ParameterTypeString,
				parameters.WithHelp("Character the assistant plays"),
				parameters.WithDefault("Assistant"),
			),
			parameters.NewParameterDefinition("personality",
				parameters.ParameterTypeString,
				parameters.WithHelp("Character personality fed into the system prompt"),
				parameters.WithDefault("You are helpful and concise."),
			),
			parameters.NewParameterDefinition("no-stream",
				parameters.ParameterTypeBool,
				parameters.WithHelp("Use blocking completion instead of streaming"),
				parameters.WithDefault(false),
			),
			parameters.NewParameterDefinition("verbose",
				parameters.ParameterTypeBool,
				parameters.WithHelp("Verbose event router logging"),
				parameters.WithDefault(false),
			),
		),
	)

	return &ChatCommand{
		CommandDescription: description,
	}, nil
}

func (c *ChatCommand) resolveSettings(s *ChatCommandSettings) (*settings.ProviderSettings, error) {
	if s.ConfigDir == "" {
		ps := settings.NewProviderSettings()
		ps.Name = "echo"
		ps.Provider = settings.KindEcho
		return ps, nil
	}

	registry, err := settings.LoadDirectory(s.ConfigDir)
	if err != nil {
		return nil, err
	}

	if s.Provider != "" {
		ps, ok := registry.Get(s.Provider)
		if !ok {
			return nil, errors.Errorf("no enabled provider configuration named %q (have: %v)", s.Provider, registry.Names())
		}
		return ps.Clone(), nil
	}

	ps, ok := registry.Default()
	if !ok {
		return nil, errors.Errorf("no enabled provider configurations in %s", s.ConfigDir)
	}
	return ps.Clone(), nil
}

func loadTree(path string) (*conversation.ConversationTree, error) {
	if path == "" {
		return conversation.NewConversationTree(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return conversation.NewConversationTree(), nil
	}
	return conversation.LoadFromFile(path)
}

func (c *ChatCommand) RunIntoWriter(ctx context.Context, parsedLayers *layers.ParsedLayers, w io.Writer) error {
	s := &ChatCommandSettings{}
	err := parsedLayers.InitializeStruct(layers.DefaultSlug, s)
	if err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	providerSettings, err := c.resolveSettings(s)
	if err != nil {
		return err
	}
	if s.NoStream {
		providerSettings.Streaming = false
	}

	prov, err := factory.NewProviderFromSettings(providerSettings)
	if err != nil {
		return err
	}

	tree, err := loadTree(s.Conversation)
	if err != nil {
		return errors.Wrap(err, "loading conversation")
	}

	routerOptions := []events.EventRouterOption{}
	if s.Verbose {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return errors.Wrap(err, "failed to create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	watermillSink := events.NewWatermillSink(router.Publisher, "chat")
	router.AddHandler("chat", "chat", events.StepPrinterFunc(s.CharacterName, w))

	controller := session.NewController(tree, prov, providerSettings,
		session.WithSinks(watermillSink),
		session.WithCharacter(session.Character{
			Name:        s.CharacterName,
			Personality: s.Personality,
		}),
	)

	eg := errgroup.Group{}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})

	eg.Go(func() (err error) {
		defer cancel()
		<-router.Running()

		// the tree is saved on every exit path, failed generations included
		defer func() {
			if s.Conversation == "" {
				return
			}
			saveErr := tree.SaveToFile(s.Conversation)
			if saveErr != nil {
				log.Error().Err(saveErr).Str("file", s.Conversation).Msg("failed to save conversation")
				if err == nil {
					err = errors.Wrap(saveErr, "saving conversation")
				}
				return
			}
			log.Info().Str("file", s.Conversation).Int("messages", len(tree.Nodes)).Msg("conversation saved")
		}()

		controller.Start(ctx)
		defer func() {
			_ = controller.Close()
		}()

		if s.Prompt != "" {
			state, err := runExchange(ctx, controller, s.Prompt)
			if err != nil {
				return err
			}
			if state == session.StateFailed {
				return errors.New("generation failed, see error output")
			}
			return nil
		}

		return chatLoop(ctx, controller, os.Stdin)
	})

	err = eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// chatLoop reads prompts line by line. A failed generation is already
// reported on the event stream by the chat handler, so the loop keeps
// accepting input afterwards.
func chatLoop(ctx context.Context, controller *session.Controller, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if _, err := runExchange(ctx, controller, line); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "reading input")
}

// runExchange submits one prompt and waits until the generation reaches a
// terminal state, which it returns.
func runExchange(ctx context.Context, controller *session.Controller, prompt string) (session.State, error) {
	if err := controller.Submit(prompt); err != nil {
		return controller.State(), err
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return controller.State(), ctx.Err()
		case <-ticker.C:
			state := controller.State()
			if state.Terminal() {
				return state, nil
			}
		}
	}
}

var importCmd = &cobra.Command{
	Use:   "import <legacy.json> <out.json>",
	Short: "Convert a legacy flat transcript to the branching tree format",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := conversation.LoadFromFile(args[0])
		if err != nil {
			return err
		}
		if err := tree.SaveToFile(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d messages into %s\n", len(tree.Nodes), args[1])
		return nil
	},
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:     os.Stderr,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})

	err := clay.InitViper("loom", rootCmd)
	cobra.CheckErr(err)

	helpSystem := help.NewHelpSystem()
	helpSystem.SetupCobraRootCommand(rootCmd)

	chatCmd, err := NewChatCommand()
	cobra.CheckErr(err)

	command, err := cli.BuildCobraCommand(chatCmd)
	cobra.CheckErr(err)
	rootCmd.AddCommand(command)
	rootCmd.AddCommand(importCmd)

	cobra.CheckErr(rootCmd.Execute())
}
