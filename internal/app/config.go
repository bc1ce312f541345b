package app

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/portierproxy/portier/internal/gateway"
	"github.com/portierproxy/portier/internal/secrets"
)

func configCmd(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "missing subcommand: validate")
		return 2
	}

	switch args[0] {
	case "validate":
		return configValidate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand: %s\n", args[0])
		return 2
	}
}

type validationResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

func configValidate(args []string) int {
	fs := flag.NewFlagSet("config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	serversPath := fs.String("servers", "./servers.json", "path to servers file")
	format := fs.String("format", "json", "output format: json|text")
	strictSecrets := fs.Bool("strict-secrets", false, "require every ${NAME} placeholder to resolve, including forwarded header values")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	data, err := os.ReadFile(*serversPath)
	if err != nil {
		return configValidateResult(*format, validationResult{Errors: []string{err.Error()}})
	}

	var records map[string]json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return configValidateResult(*format, validationResult{Errors: []string{fmt.Sprintf("servers file does not parse: %v", err)}})
	}

	secretMap := secrets.Snapshot()
	res := validationResult{OK: true}

	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == gateway.GlobalAuthStoreKey {
			if _, err := gateway.ParseGlobalAuthEntries(records[key], key, secretMap); err != nil {
				res.OK = false
				res.Errors = append(res.Errors, err.Error())
			}
			continue
		}
		for _, msg := range validateServerRecord(key, records[key], secretMap, *strictSecrets) {
			res.OK = false
			res.Errors = append(res.Errors, msg)
		}
	}

	return configValidateResult(*format, res)
}

func validateServerRecord(key string, raw json.RawMessage, secretMap map[string]string, strictSecrets bool) []string {
	cfg, err := gateway.ParseServerConfig(raw)
	if err != nil {
		return []string{fmt.Sprintf("%s: does not parse: %v", key, err)}
	}

	var errs []string
	processed, err := gateway.ProcessConfig(cfg, secretMap)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", key, err)}
	}
	if err := gateway.ValidateConfig(processed); err != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", key, err))
	}

	if strictSecrets {
		for name, value := range cfg.Headers {
			if _, err := secrets.Interpolate(value, secretMap, true); err != nil {
				errs = append(errs, fmt.Sprintf("%s: header %q: %v", key, name, err))
			}
		}
		if _, err := secrets.Interpolate(cfg.URL, secretMap, true); err != nil {
			errs = append(errs, fmt.Sprintf("%s: url: %v", key, err))
		}
	}
	return errs
}

func configValidateResult(format string, res validationResult) int {
	if format == "text" {
		if res.OK {
			fmt.Fprintln(os.Stdout, "ok")
			return 0
		}
		fmt.Fprintln(os.Stderr, strings.Join(res.Errors, "\n"))
		return 1
	}

	out, err := json.Marshal(res)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	if res.OK {
		fmt.Fprintln(os.Stdout, string(out))
		return 0
	}
	fmt.Fprintln(os.Stderr, string(out))
	return 1
}
