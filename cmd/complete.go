package cmd

import (
	"flag"
	"strings"

	"github.com/etnz/espp/docs"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

// fileFlags are the flags naming a file, with the pattern of the files
// they expect.
var fileFlags = map[string]string{
	"transactions": "*.jsonl",
	"holdings":     "*.json",
	"wires":        "*.json",
	"template":     "*.json",
	"rates-file":   "*.json",
	"show":         "*.json",
	"o":            "*.json",
}

// Completion returns the shell completion of the application: the global
// flags, the subcommands and their flags.
func Completion() *complete.Command {
	root := &complete.Command{
		Sub:   make(map[string]*complete.Command),
		Flags: predictors(flag.CommandLine),
	}
	for _, c := range Commands {
		fs := flag.NewFlagSet(c.Command.Name(), flag.ContinueOnError)
		c.Command.SetFlags(fs)
		root.Sub[c.Command.Name()] = &complete.Command{Flags: predictors(fs)}
	}
	root.Sub["topic"].Args = topicNames()
	return root
}

func predictors(fs *flag.FlagSet) map[string]complete.Predictor {
	m := make(map[string]complete.Predictor)
	fs.VisitAll(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "test.") {
			return
		}
		if b, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && b.IsBoolFlag() {
			m[f.Name] = predict.Nothing
			return
		}
		switch pattern, ok := fileFlags[f.Name]; {
		case ok:
			m[f.Name] = predict.Files(pattern)
		case f.Name == "cache-dir":
			m[f.Name] = predict.Dirs("*")
		case f.Name == "log-level":
			m[f.Name] = predict.Set{"debug", "info", "warn", "error"}
		default:
			m[f.Name] = predict.Something
		}
	})
	return m
}

func topicNames() complete.Predictor {
	topics, _ := docs.GetAllTopics()
	names := predict.Set{"*"}
	for _, t := range topics {
		names = append(names, t.Name)
	}
	return names
}
