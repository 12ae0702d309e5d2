package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func printJSON(v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(buf))
	return nil
}
