package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/inquire/internal/config"
	"github.com/fyrsmithlabs/inquire/internal/embeddings"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Install the ONNX runtime used for local embeddings",
	Long: `Download the onnxruntime shared library into
<embeddings.cache_dir>/onnxruntime so the first batch does not stall on it.
Nothing is downloaded when embeddings.onnx_path or ONNX_PATH already points
at a library.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		rt := &embeddings.ONNXRuntime{
			Dir:  filepath.Join(cfg.Embeddings.CacheDir, "onnxruntime"),
			Path: cfg.Embeddings.ONNXPath,
		}
		path, err := rt.Ensure(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "ONNX runtime available at: %s\n", path)
		return err
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
