package knot

import (
	"fmt"

	"lithos/pkg/errs"
)

// Options are the knot's startup parameters, parsed from argv:
// "--name <instance>", "--master <master.yaml>",
// "--config <JSON ChildConfig>", and optional "--log-stderr"/
// "--log-level". Argv parsing is hand-rolled rather than going through
// spf13/pflag (used by the tree's CLI) because the tree later compares a
// live knot's exact /proc/<pid>/cmdline against the argv it spawned the
// knot with, down to the mandatory trailing empty string; a flag library
// free to reorder or drop empty positionals would break that contract.
type Options struct {
	Name       string
	MasterPath string
	ConfigJSON string
	LogStderr  bool
	LogLevel   string
}

// ParseArgs parses os.Args[1:] (or an equivalent slice in tests) into
// Options. The trailing empty-string argument required by the adoption
// protocol is accepted and ignored here; it exists purely for the tree's
// /proc/<pid>/cmdline comparison.
func ParseArgs(args []string) (*Options, error) {
	var o Options
	i := 0
	for i < len(args) {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				return nil, errs.New(errs.Config, "parse-args", "", fmt.Errorf("--name requires a value"))
			}
			o.Name = args[i+1]
			i += 2
		case "--master":
			if i+1 >= len(args) {
				return nil, errs.New(errs.Config, "parse-args", "", fmt.Errorf("--master requires a value"))
			}
			o.MasterPath = args[i+1]
			i += 2
		case "--config":
			if i+1 >= len(args) {
				return nil, errs.New(errs.Config, "parse-args", "", fmt.Errorf("--config requires a value"))
			}
			o.ConfigJSON = args[i+1]
			i += 2
		case "--log-stderr":
			o.LogStderr = true
			i++
		case "--log-level":
			if i+1 >= len(args) {
				return nil, errs.New(errs.Config, "parse-args", "", fmt.Errorf("--log-level requires a value"))
			}
			o.LogLevel = args[i+1]
			i += 2
		case "":
			// the adoption-marker trailing empty argument
			i++
		default:
			return nil, errs.New(errs.Config, "parse-args", "", fmt.Errorf("unrecognized argument %q", args[i]))
		}
	}
	if o.Name == "" || o.MasterPath == "" || o.ConfigJSON == "" {
		return nil, errs.New(errs.Config, "parse-args", "", fmt.Errorf("--name, --master and --config are all required"))
	}
	return &o, nil
}

// Argv reconstructs the exact argv the tree spawns a knot with, including
// the mandatory trailing empty string, for a given binary path.
func Argv(binaryPath string, o *Options) []string {
	return []string{binaryPath, "--name", o.Name, "--master", o.MasterPath, "--config", o.ConfigJSON, ""}
}
