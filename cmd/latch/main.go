// Package main implements the latch CLI (§6): a hand-rolled switch over
// os.Args exercising every Repository Facade and Sync Orchestrator
// operation. No CLI framework is introduced, matching the teacher's cmd/bee.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/latchvc/latchvc/pkg/identity"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	var err error
	switch command {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "init":
		err = initCommand()
	case "add":
		err = addCommand()
	case "status":
		err = statusCommand()
	case "commit":
		err = commitCommand()
	case "log":
		err = logCommand()
	case "diff":
		err = diffCommand()
	case "branch":
		err = branchCommand()
	case "checkout":
		err = checkoutCommand()
	case "commit-amend":
		err = amendCommand()
	case "chunks":
		err = chunksCommand()
	case "serve":
		err = serveCommand()
	case "peers":
		err = peersCommand()
	case "fetch":
		err = fetchCommand()
	case "clone":
		err = cloneCommand()
	case "pull":
		err = pullCommand()
	case "push":
		err = pushCommand()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func printVersion() {
	fmt.Println("latch (dev)")
}

func printUsage() {
	fmt.Print(`latch - a decentralized version-control system for large binary artifacts

Usage:
  latch <command> [args]

Local commands:
  init                     Create a repository in the current directory
  add <path>               Stage a file
  status                   Print branch, head, and staged entries
  commit -m <msg>          Create a commit from staged entries
  log                      Print commits reachable from HEAD, newest-first
  diff <ref1> <ref2>       Print added/removed/modified paths
  branch [--list|--delete] [name]   List, create, or delete a branch
  checkout <name>          Move HEAD to a branch
  commit-amend [-m <msg>]  Amend the current commit
  chunks <digest>          List the chunks of an object

Network commands:
  serve [--require-handshake] [--transport quic|tcp]
                                 Print PeerID and listen addresses, run until signal
  peers                         Print the discovered/known peer table
  peers add [--name N] [--signing-key HEX] [--agreement-key HEX] <peer-id> <addr>
                                 Register a peer, optionally with its public keys
  fetch [--transport quic|tcp] <peer> <digest>
                                 Fetch an object, saved to fetched_<first8>.dat
  clone [--transport quic|tcp] <peer> <dir>
                                 Clone a remote repository
  pull [--transport quic|tcp] <peer>
                                 Pull new commits from a peer
  push [--transport quic|tcp] <peer>
                                 Notify a peer of the local HEAD

  version                  Show version information
  help                     Show this help message
`)
}

// repoRoot is the working directory every local command operates against,
// mirroring a VCS CLI's "current repository is the CWD" convention.
func repoRoot() (string, error) {
	return os.Getwd()
}

// identityPath is per-machine, not per-repository: one PeerID per process
// host, matching §4.F ("a stable cryptographic PeerId derived from a
// locally generated keypair created at first start and persisted").
func identityPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".latch", "identity.json"), nil
}

func loadIdentity() (*identity.Identity, error) {
	path, err := identityPath()
	if err != nil {
		return nil, err
	}
	return identity.LoadOrCreate(path)
}

func peersPath(root string) string {
	return filepath.Join(root, "peers.json")
}
