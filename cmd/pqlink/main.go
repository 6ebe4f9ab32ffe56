package main

import (
	"fmt"
	"os"

	pkgversion "github.com/sara-star-quant/pqlink/pkg/version"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "listen":
		err = listenCommand(args)
	case "send":
		err = sendCommand(args)
	case "sendfile":
		err = sendFileCommand(args)
	case "digest":
		err = digestCommand(args)
	case "algorithms":
		algorithmsCommand()
	case "genconfig":
		err = genConfigCommand(args)
	case "bench":
		err = benchCommand(args)
	case "version":
		fmt.Printf("pqlink version %s\n", getVersion())
		if buildTime != "unknown" {
			fmt.Printf("Built: %s\n", buildTime)
		}
		if gitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", gitCommit)
		}
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pqlink - post-quantum secure channel

USAGE:
    pqlink <command> [options]

COMMANDS:
    listen      Accept channels and print or save what arrives
    send        Send a text message
    sendfile    Send a file
    digest      Print the SHA3-256 digest of files
    algorithms  List the supported key encapsulation mechanisms
    genconfig   Write a default configuration file
    bench       Measure handshake and transfer performance over loopback
    version     Print version information
    help        Show this help message

Run 'pqlink <command> --help' for more information on a command.

EXAMPLES:
    # Terminal 1: receive files into ./inbox
    pqlink listen --addr :8443 --out ./inbox

    # Terminal 2: send a file and wait for the receipt
    pqlink sendfile --addr localhost:8443 report.pdf

    # Same over QUIC, with keyed frame tags
    pqlink listen --transport quic --authenticate
    pqlink send --transport quic --authenticate --message "hello"

CONFIGURATION:
    Options may also come from a YAML file (--config) or from PQLINK_*
    environment variables, for example PQLINK_ADDR or PQLINK_LOG_LEVEL.
    Flags win over the environment, which wins over the file.`)
}
