package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var predictCmd = &cobra.Command{
	Use:   "predict [json-array]",
	Short: "Score one feature vector",
	Long:  "Run one prediction through the same validation as the server. Reads stdin when no argument is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPredict,
}

func runPredict(cmd *cobra.Command, args []string) error {
	var payload []byte
	if len(args) == 1 {
		payload = []byte(args[0])
	} else {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		payload = b
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	inf, err := a.inferenceHandler()
	if err != nil {
		return err
	}
	resp, err := inf.HandlePredict(payload)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(resp)
}
