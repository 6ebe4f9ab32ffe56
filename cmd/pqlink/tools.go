package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/sara-star-quant/pqlink/pkg/digest"
	"github.com/sara-star-quant/pqlink/pkg/kem"
)

func digestCommand(args []string) error {
	fs := flag.NewFlagSet("digest", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println(`USAGE: pqlink digest FILE...

Print the SHA3-256 digest of each file, as the listener reports in receipts.
A FILE of - reads stdin.`)
	}
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no files given")
	}
	return printDigests(os.Stdout, os.Stdin, fs.Args())
}

func printDigests(w io.Writer, stdin io.Reader, paths []string) error {
	for _, path := range paths {
		var (
			sum digest.Digest
			err error
		)
		if path == "-" {
			sum, err = digest.SumReader(stdin)
		} else {
			sum, err = digest.SumFile(path)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%x  %s\n", sum[:], path)
	}
	return nil
}

func algorithmsCommand() {
	printAlgorithms(os.Stdout)
}

func printAlgorithms(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tPUBLIC KEY\tCIPHERTEXT\t")
	for _, s := range kem.Schemes() {
		name := s.Name()
		if s.ID() == kem.Default {
			name += " (default)"
		}
		fmt.Fprintf(tw, "%s\t0x%04x\t%d\t%d\t\n", name, uint16(s.ID()), s.PublicKeySize(), s.CiphertextSize())
	}
	_ = tw.Flush()
}
