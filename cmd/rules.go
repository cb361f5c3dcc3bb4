// File: cmd/rules.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pulse-sim/pulse/api/schemas"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and manage stored rules",
}

var listFlags struct {
	ruleType string
	status   string
	limit    int
	offset   int
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed rules, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return printJSON(a.repo.ListRules(listFlags.ruleType, listFlags.status, listFlags.limit, listFlags.offset))
	},
}

var showVersion int

var rulesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored rule body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		rule, err := a.repo.GetRule(args[0], showVersion)
		if err != nil {
			return err
		}
		return printJSON(rule)
	},
}

var rulesHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a rule's version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		history, err := a.repo.GetRuleHistory(args[0])
		if err != nil {
			return err
		}
		return printJSON(history)
	},
}

var rulesStatusCmd = &cobra.Command{
	Use:   "status <id> <draft|active|deprecated|archived>",
	Short: "Move a rule through its lifecycle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return a.repo.ChangeRuleStatus(args[0], schemas.RuleStatus(args[1]))
	},
}

var deleteHard bool

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Archive a rule, or remove it permanently with --hard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		_, err = a.repo.DeleteRule(args[0], deleteHard)
		return err
	},
}

var rulesBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List repository backups, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		backups, err := a.repo.ListBackups()
		if err != nil {
			return err
		}
		return printJSON(backups)
	},
}

var rulesRestoreCmd = &cobra.Command{
	Use:   "restore <backup-name>",
	Short: "Restore the repository from a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return a.repo.RestoreBackup(args[0])
	},
}

func init() {
	rulesListCmd.Flags().StringVarP(&listFlags.ruleType, "type", "t", "", "filter by rule type")
	rulesListCmd.Flags().StringVarP(&listFlags.status, "status", "s", "", "filter by status")
	rulesListCmd.Flags().IntVar(&listFlags.limit, "limit", 0, "maximum rules to return (0 = all)")
	rulesListCmd.Flags().IntVar(&listFlags.offset, "offset", 0, "rules to skip")

	rulesShowCmd.Flags().IntVar(&showVersion, "version", 0, "version to show (0 = latest)")
	rulesDeleteCmd.Flags().BoolVar(&deleteHard, "hard", false, "permanently remove every version and the index entry")

	rulesCmd.AddCommand(rulesListCmd, rulesShowCmd, rulesHistoryCmd, rulesStatusCmd,
		rulesDeleteCmd, rulesBackupsCmd, rulesRestoreCmd)
	rootCmd.AddCommand(rulesCmd)
}
