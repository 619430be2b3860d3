package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/kvfabric/internal/delta"
)

var deltaCmd = &cobra.Command{
	Use:   "delta",
	Short: "inspect delta files without starting a server",
}

var deltaInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "dump the metadata header and records of a delta file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeltaInspect,
}

func init() {
	deltaCmd.AddCommand(deltaInspectCmd)
}

// runDeltaInspect dumps a delta file's metadata and records to stdout,
// the way cockroachdb-pebble's cmd/ldbdump dumps an sstable's key/value
// pairs: one process argument, one file, plain fmt.Printf output.
func runDeltaInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	r := delta.NewReader(f)
	meta, err := r.Metadata()
	if err != nil {
		return err
	}
	fmt.Printf("shard_id=%d min_lct=%d max_lct=%d record_count=%d\n",
		meta.ShardID, meta.MinLCT, meta.MaxLCT, meta.RecordCount)

	n := 0
	err = r.ReadRecords(func(rec delta.Record) {
		n++
		switch rec.Type {
		case delta.RecordTypeMutation:
			m := rec.Mutation
			if m.IsSet {
				fmt.Printf("mutation key=%q set_value=%v lct=%d op=%d\n", m.Key, m.SetValue, m.LCT, m.Op)
			} else {
				fmt.Printf("mutation key=%q value=%q lct=%d op=%d\n", m.Key, m.Value, m.LCT, m.Op)
			}
		case delta.RecordTypeUDFConfig:
			u := rec.UDFConfig
			fmt.Printf("udf_config handler=%q version=%q lct=%d source_len=%d wasm_len=%d\n",
				u.HandlerName, u.Version, u.LCT, len(u.Source), len(u.WasmBlob))
		case delta.RecordTypeShardMapping:
			s := rec.ShardMapping
			fmt.Printf("shard_mapping logical_shard=%d physical_shard=%q replicas=%v\n",
				s.LogicalShard, s.PhysicalShard, s.Replicas)
		}
	})
	if err != nil {
		return err
	}
	fmt.Printf("%d records\n", n)
	return nil
}
