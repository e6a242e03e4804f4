// ABOUTME: convert command: decodes a trace and re-encodes it in another format
// ABOUTME: Malformed records are skipped within the configured error budget

package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/prateek/heapsnap/trace"
)

func runConvert(cmd *cobra.Command, args []string) error {
	to, err := trace.Lookup(flagConvertTo)
	if err != nil {
		return err
	}
	opts := trace.Options{
		MaxErrors: 100,
		OnError: func(err error) {
			log.WithError(err).Warn("skipping malformed record")
		},
	}
	dec, in, err := openTrace(args[0], flagFormat, opts)
	if err != nil {
		return err
	}
	defer in.Close()

	var out *os.File
	if args[1] == "-" {
		out = os.Stdout
	} else if out, err = os.Create(args[1]); err != nil {
		return err
	}
	n, err := convert(dec, out, to)
	if args[1] != "-" {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"events": n, "format": to.Name()}).Info("trace converted")
	return nil
}

func convert(dec trace.Decoder, w io.Writer, to trace.Format) (int64, error) {
	enc, err := to.NewEncoder(w)
	if err != nil {
		return 0, err
	}
	var n int64
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("after %d events: %w", n, err)
		}
		if err := enc.Encode(ev); err != nil {
			return n, err
		}
		n++
	}
	return n, enc.Flush()
}
