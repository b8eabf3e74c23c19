package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cgfs",
	Short: "Mount a CodeGrade course as a filesystem",
	Long:  `cgfs exposes courses, assignments, submissions and their files as a FUSE filesystem, with grading actions (grade, feedback, rubric) surfaced as plain-text synthetic files.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (not read: configuration always loads from $XDG_CONFIG_HOME/cgfs/config.yaml or ~/.config/cgfs/config.yaml)")
}
