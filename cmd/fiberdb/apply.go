package main

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/dbcore/fiberdb/internal/config"
	"github.com/dbcore/fiberdb/logger"
	"github.com/dbcore/fiberdb/update"
)

// applyOptions holds the flags bound to the apply subcommand, in the
// teacher's pattern of a small struct flags are parsed into rather than
// free variables (see _examples/FeatureBaseDB-featurebase/ctl/*Command).
type applyOptions struct {
	recordPath string
	batchPath  string
	dictPath   string
	indexBase  int
	upsert     bool
}

// dictFile is the on-disk TOML shape for a field-name dictionary: a flat
// table from field name to its top-level column index.
type dictFile struct {
	Fields map[string]int `toml:"fields"`
}

func newApplyCommand(stdin io.Reader, stdout, stderr io.Writer, cfg *config.Config) *cobra.Command {
	opts := &applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply an update batch to a msgpack-encoded record.",
		Long: `apply reads a msgpack-encoded array record and a msgpack-encoded
array of update operations, applies the batch, and writes the resulting
record to stdout as msgpack.

Use --upsert to apply the batch against a missing or partial record,
skipping operations that fail rather than aborting the whole batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(stdout, stderr, opts, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.recordPath, "record", "", "path to the msgpack-encoded record (omit for an empty record with --upsert)")
	flags.StringVar(&opts.batchPath, "batch", "", "path to the msgpack-encoded operation batch")
	flags.StringVar(&opts.dictPath, "dict", "", "path to a TOML field-name dictionary")
	flags.IntVar(&opts.indexBase, "index-base", 1, "index base the batch's integer selectors are relative to")
	flags.BoolVar(&opts.upsert, "upsert", false, "apply as an upsert: skip failing operations instead of aborting")

	return cmd
}

func runApply(stdout, stderr io.Writer, opts *applyOptions, cfg *config.Config) error {
	update.MaxOperationsPerBatch = cfg.MaxOperationsPerBatch

	if opts.batchPath == "" {
		return fmt.Errorf("apply: --batch is required")
	}
	batch, err := os.ReadFile(opts.batchPath)
	if err != nil {
		return fmt.Errorf("apply: reading batch: %w", err)
	}

	var record []byte
	if opts.recordPath != "" {
		record, err = os.ReadFile(opts.recordPath)
		if err != nil {
			return fmt.Errorf("apply: reading record: %w", err)
		}
	} else if !opts.upsert {
		return fmt.Errorf("apply: --record is required unless --upsert is set")
	} else {
		record = []byte{0x90} // empty msgpack array
	}

	dict, err := loadDict(opts.dictPath)
	if err != nil {
		return err
	}

	var (
		newRecord []byte
		mask      update.ColumnMask
	)
	if opts.upsert {
		newRecord, mask, err = update.UpsertApply(batch, record, dict, opts.indexBase, logger.NopLogger)
	} else {
		newRecord, mask, err = update.Apply(batch, record, dict, opts.indexBase)
	}
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	fmt.Fprintf(stderr, "columns touched: %v\n", mask)
	_, err = stdout.Write(newRecord)
	return err
}

func loadDict(path string) (update.Dict, error) {
	if path == "" {
		return nil, nil
	}
	var df dictFile
	if _, err := toml.DecodeFile(path, &df); err != nil {
		return nil, fmt.Errorf("reading dictionary %q: %w", path, err)
	}
	return update.Dict(df.Fields), nil
}
