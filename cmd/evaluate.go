package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"fdsengine/bootstrap"
	"fdsengine/core"

	"github.com/spf13/cobra"
)

const (
	maxInputFileSize = 50 * 1024 * 1024
	defaultTimeout   = 5 * time.Minute
)

func newEvaluateCmd() *cobra.Command {
	var rulesFile, inputFile, redisAddr string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one batch of transactions",
		Long: `Evaluate a JSON file of transactions (an array or a single object) as one
batch. Counters and caches are read from and written to the configured Redis.
Prints the incident raised by the first LABEL/BLOCK detection, if any.`,
		Example: `  fdsengine evaluate --rules rules.yaml --input batch.json
  fdsengine evaluate --rules rules.yaml --input batch.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sugar, err := loadCLIConfig()
			if err != nil {
				return err
			}
			if rulesFile != "" {
				cfg.Rules.File = rulesFile
			}
			if redisAddr != "" {
				cfg.Redis.Addr = redisAddr
			}

			txns, err := readTransactions(inputFile)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			rules, err := bootstrap.LoadRules(cfg, sugar)
			if err != nil {
				return err
			}
			store, err := bootstrap.InitRedisStore(ctx, cfg, sugar)
			if err != nil {
				return err
			}
			defer store.Close()

			engine, err := bootstrap.InitEngine(cfg, rules, store, sugar)
			if err != nil {
				return err
			}

			incident, err := engine.Evaluate(ctx, txns)
			if err != nil {
				printEvaluationError(cmd.ErrOrStderr(), err)
				return err
			}
			return printIncident(cmd.OutOrStdout(), incident, len(txns))
		},
	}

	cmd.Flags().StringVar(&rulesFile, "rules", "", "Rule catalog (YAML or JSON); overrides rules.file")
	cmd.Flags().StringVar(&inputFile, "input", "", "Transactions file (JSON)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address; overrides redis.addr")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// readTransactions decodes a JSON array of objects, or a single object, keeping
// numbers as json.Number.
func readTransactions(path string) ([]core.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxInputFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) > maxInputFileSize {
		return nil, fmt.Errorf("input file exceeds %d bytes", maxInputFileSize)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		data = append(append([]byte{'['}, data...), ']')
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse transactions: %w", err)
	}

	txns := make([]core.Transaction, 0, len(raw))
	for i, m := range raw {
		if m == nil {
			return nil, fmt.Errorf("transaction %d is not an object", i)
		}
		txns = append(txns, core.Transaction(m))
	}
	return txns, nil
}

func printIncident(w io.Writer, incident *core.Incident, evaluated int) error {
	if outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if incident == nil {
			return enc.Encode(map[string]interface{}{"incident": nil, "transactions": evaluated})
		}
		return enc.Encode(map[string]interface{}{"incident": incident, "transactions": evaluated})
	}

	if incident == nil {
		successColor.Fprintf(w, "No incident")
		fmt.Fprintf(w, " (%d transactions evaluated)\n", evaluated)
		return nil
	}

	errorColor.Fprintf(w, "%s", incident.Action)
	fmt.Fprintf(w, "  rule %s", incident.RuleID)
	if incident.RuleName != "" {
		fmt.Fprintf(w, " (%s)", incident.RuleName)
	}
	fmt.Fprintf(w, " on transaction %s\n", incident.TransactionID)

	infoColor.Fprintf(w, "  Incident:  ")
	fmt.Fprintln(w, incident.ID)
	infoColor.Fprintf(w, "  Count:     ")
	fmt.Fprintln(w, incident.Count)
	if incident.Level != "" {
		infoColor.Fprintf(w, "  Level:     ")
		fmt.Fprintln(w, incident.Level)
	}
	if incident.Notify != "" {
		infoColor.Fprintf(w, "  Notify:    ")
		fmt.Fprintln(w, incident.Notify)
	}
	infoColor.Fprintf(w, "  Detected:  ")
	fmt.Fprintln(w, incident.DetectedAt.Format(time.RFC3339))
	infoColor.Fprintf(w, "  Payload:   ")
	fmt.Fprintln(w, incident.TransactionJSON)
	return nil
}

func printEvaluationError(w io.Writer, err error) {
	var evalErr *core.EvaluationError
	if !errors.As(err, &evalErr) {
		return
	}
	errorColor.Fprintf(w, "Evaluation aborted")
	fmt.Fprintf(w, " at rule %s, transaction %s\n", evalErr.RuleID, evalErr.TransactionID)
	if len(evalErr.Evaluated) > 0 {
		warningColor.Fprintf(w, "  Fully evaluated before failure: ")
		fmt.Fprintln(w, evalErr.Evaluated)
	}
}
