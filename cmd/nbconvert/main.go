package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"formpredict/notebook"

	log "github.com/sirupsen/logrus"
)

// ExitError carries the process exit code for a failed run.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*ExitError); ok {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		log.Error(err)
		os.Exit(1)
	}
}

func run(out io.Writer, args []string) error {
	flagSet := flag.NewFlagSet("nbconvert", flag.ContinueOnError)
	flagSet.SetOutput(out)
	inPath := flagSet.String("in", "sample.json", "JSON document with a cells list.")
	outPath := flagSet.String("out", "sample_converted.ipynb", "Notebook file to write.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return &ExitError{Code: 2, Message: err.Error()}
	}

	in, err := os.Open(*inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	nb, err := notebook.Convert(in, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", *inPath, err)
	}

	data, err := nb.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, data, 0644); err != nil {
		return err
	}

	fmt.Fprintf(out, "Converted JSON → %s\n", *outPath)
	return nil
}
