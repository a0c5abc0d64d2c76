package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
)

type cli struct {
	envFile string
	out     io.Writer
	errOut  io.Writer
	opts    app.Options
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "reconciler",
		Short:         "Cancel leftover payments of canceled orders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file read before the environment")

	root.AddCommand(newRunCmd(c))
	root.AddCommand(newStatusCmd(c))
	root.AddCommand(newResetCmd(c))
	return root
}
