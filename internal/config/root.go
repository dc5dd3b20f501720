package config

import "github.com/spf13/cobra"

// NewRootCommand assembles the "kvstore" command tree the way
// orneryd-Mimir's main.go assembles "nornicdb": a short root command
// plus a version command plus the one subcommand that does real work.
func NewRootCommand(version string, run func(Config) error) *cobra.Command {
	root := &cobra.Command{
		Use:   "kvstore",
		Short: "A sharded, replicated in-memory key/value store",
		Long: `kvstore is a single-process node in a sharded, replicated
key/value cluster: Raft-style replication within a shard group,
consistent-hash routing across shard groups, and live migration
on membership changes.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("kvstore " + version)
		},
	})

	root.AddCommand(NewServeCommand(run))
	return root
}
