package main

import (
	"encoding/json"
	"fmt"
	"os"
)

var (
	outputFormat string // "json", "raw"
	outputField  string // for -field=key
)

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	switch outputFormat {
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Println(v)
			}
			return
		}
		for k, v := range data {
			fmt.Printf("%s=%v\n", k, v)
		}
	default:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	}
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}
