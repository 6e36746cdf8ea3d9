package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/org/gatekeeper/internal/challenge"
	"github.com/org/gatekeeper/pkg/models"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper CLI",
	Long:  "A client for the gatekeeper challenge service: request, solve, and redeem proof-of-work challenges.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "json", "Output format: json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")
	rootCmd.PersistentFlags().StringVar(&flagIdentity, "identity", "", "Client identity (fingerprint hash)")

	rootCmd.AddCommand(challengeCmd())
	rootCmd.AddCommand(solveCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(auditCmd())
}

var flagIdentity string

func identity() string {
	if flagIdentity != "" {
		return flagIdentity
	}
	return cfg.Identity
}

func clientSignals(userAgent string) models.Signals {
	return models.Signals{
		UserAgent:           userAgent,
		HardwareConcurrency: runtime.NumCPU(),
		DeviceMemory:        8,
		TimingOK:            true,
		WorkerOK:            true,
	}
}

func challengeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "challenge",
		Short: "Request a challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identity()
			if id == "" {
				printError("identity required (--identity or config)")
				return nil
			}
			client := newClient()
			result, err := client.post("/challenge", map[string]string{"identity": id})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func solveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solve <nonce> <difficulty>",
		Short: "Brute-force a counter for a challenge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			difficulty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid difficulty: %s", args[1])
			}
			counter, digest := challenge.Solve(args[0], difficulty)
			printResult(map[string]any{"counter": counter, "hash": digest})
			return nil
		},
	}
}

func accessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Run the full flow: challenge, solve, verify, print the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identity()
			if id == "" {
				printError("identity required (--identity or config)")
				return nil
			}
			userAgent, _ := cmd.Flags().GetString("user-agent")
			save, _ := cmd.Flags().GetBool("save")

			client := newClient()
			chRes, err := client.post("/challenge", map[string]string{"identity": id})
			if err != nil {
				printError(err.Error())
				return nil
			}
			nonce, _ := chRes["nonce"].(string)
			difficulty, _ := chRes["difficulty"].(float64)
			if nonce == "" {
				printError("server returned no nonce")
				return nil
			}

			counter, digest := challenge.Solve(nonce, int(difficulty))
			result, err := client.post("/verify", models.VerifyRequest{
				Nonce:    nonce,
				Counter:  counter,
				Hash:     digest,
				Identity: id,
				Signals:  clientSignals(userAgent),
			})
			if err != nil {
				printError(err.Error())
				return nil
			}

			if save {
				if _, ok := result["signature"]; ok {
					data, _ := json.Marshal(result)
					if err := saveToken(data); err != nil {
						printError("saving token: " + err.Error())
					}
				}
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("user-agent", "gatekeeper-cli/1.0", "User agent reported in signals")
	cmd.Flags().Bool("save", false, "Persist the token for later commands")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the saved token against the protected resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identity()
			tok, err := loadToken()
			if err != nil {
				printError("no saved token (run: gatekeeper access --save)")
				return nil
			}
			client := newClient()
			result, err := client.post("/protected", map[string]any{
				"payload":   tok.Payload,
				"signature": tok.Signature,
				"identity":  id,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the decision audit trail (requires a saved token)",
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, _ := cmd.Flags().GetString("outcome")
			limit, _ := cmd.Flags().GetInt("limit")
			forIdentity, _ := cmd.Flags().GetString("for-identity")

			path := fmt.Sprintf("/audit?limit=%d", limit)
			if outcome != "" {
				path += "&outcome=" + outcome
			}
			if forIdentity != "" {
				path += "&identity=" + forIdentity
			}

			client := newClient()
			result, err := client.getAuthed(path, identity())
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("outcome", "", "Filter by outcome code")
	cmd.Flags().String("for-identity", "", "Filter by the audited identity")
	cmd.Flags().Int("limit", 50, "Maximum entries to return")
	return cmd
}
