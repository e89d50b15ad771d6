package main

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dbcore/fiberdb/internal/config"
	"github.com/dbcore/fiberdb/update"
)

// NewRootCommand wires together the fiber runtime and update engine
// demonstration subcommands, in the teacher's own constructor-with-
// threaded-streams style (see
// _examples/FeatureBaseDB-featurebase/cmd/root.go's NewRootCommand).
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg := config.Default()

	rc := &cobra.Command{
		Use:   "fiberdb",
		Short: "fiberdb is a demonstration harness for a cooperative fiber runtime and binary update engine.",
		Long: `fiberdb exercises the fiber scheduler and the structured-document
update engine from the command line. It is not a network server: the
fiber and update packages are meant to be embedded as libraries by a
surrounding system; this binary is a harness for exploring their
behavior directly.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := config.ApplyOverrides(v, cmd.Flags(), &cfg); err != nil {
				return err
			}
			update.MaxOperationsPerBatch = cfg.MaxOperationsPerBatch
			return nil
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")
	config.RegisterFlags(rc.PersistentFlags(), &cfg)

	rc.AddCommand(newApplyCommand(stdin, stdout, stderr, &cfg))
	rc.AddCommand(newRunCommand(stdin, stdout, stderr, &cfg))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}
