package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	snapdesk_cmds "github.com/go-go-golems/snapdesk/cmd/snapdesk/cmds"
	snapdesk_doc "github.com/go-go-golems/snapdesk/cmd/snapdesk/doc"
)

var rootCmd = &cobra.Command{
	Use:   "snapdesk",
	Short: "snapdesk serves SnapLogic demo chat pages and a PO approval workbench",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	cobra.CheckErr(clay.InitGlazed("snapdesk", rootCmd))

	helpSystem := help.NewHelpSystem()
	cobra.CheckErr(snapdesk_doc.AddDocToHelpSystem(helpSystem))
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	cobra.CheckErr(initAllCommands())
	cobra.CheckErr(rootCmd.Execute())
}

func initAllCommands() error {
	serve, err := snapdesk_cmds.NewServeCommand()
	if err != nil {
		return err
	}
	pages, err := snapdesk_cmds.NewPagesCommand()
	if err != nil {
		return err
	}
	ask, err := snapdesk_cmds.NewAskCommand()
	if err != nil {
		return err
	}
	chat, err := snapdesk_cmds.NewChatCommand()
	if err != nil {
		return err
	}
	history, err := snapdesk_cmds.NewHistoryCommand()
	if err != nil {
		return err
	}
	for _, c := range []glazed_cmds.Command{serve, pages, ask, chat, history} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(snapdesk_cmds.GetMiddlewares))
		if err != nil {
			return err
		}
		rootCmd.AddCommand(cobraCmd)
	}
	return snapdesk_cmds.AddWorkbenchCommands(rootCmd)
}
