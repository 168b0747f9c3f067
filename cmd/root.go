// Package cmd provides the diffuse command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "diffuse",
	Short: "diffuse - diffusion-geometry embedding of high-dimensional point clouds",
	Long: `diffuse embeds high-dimensional point clouds into two or three
dimensions while preserving global trajectory structure, using a
diffusion potential over a neighborhood graph followed by MDS.`,
}

func Execute() error {
	return rootCmd.Execute()
}
