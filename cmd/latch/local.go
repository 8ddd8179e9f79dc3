package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/latchvc/latchvc/pkg/apperr"
	"github.com/latchvc/latchvc/pkg/digest"
	"github.com/latchvc/latchvc/pkg/repo"
)

// exitCodeFor maps an error to the process exit code spec §6's CLI table
// assigns it: 2 for usage/argument errors and for an ambiguous digest
// prefix, 1 for everything else latchvc itself reports, 1 as the catch-all
// for unclassified errors.
func exitCodeFor(err error) int {
	if _, ok := err.(usageError); ok {
		return 2
	}
	if apperr.Is(err, apperr.CodeAmbiguousReference) {
		return 2
	}
	return 1
}

// usageError marks an argument-parsing failure, distinct from a latchvc
// operation failure, so main can exit 2 instead of 1.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func openRepo() (*repo.Repo, error) {
	root, err := repoRoot()
	if err != nil {
		return nil, err
	}
	return repo.Open(root)
}

func initCommand() error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Init(root)
	if err != nil {
		return err
	}
	defer r.Close()
	fmt.Printf("Initialized empty repository in %s\n", root)
	return nil
}

func addCommand() error {
	args := os.Args[2:]
	if len(args) != 1 {
		return usageError{"usage: latch add <path>"}
	}
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	d, err := r.Add(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("staged %s (%s)\n", args[0], d)
	return nil
}

func statusCommand() error {
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	st, err := r.Status()
	if err != nil {
		return err
	}
	fmt.Printf("branch %s\n", st.Branch)
	if st.HasHead {
		fmt.Printf("head %s\n", st.Head)
	} else {
		fmt.Println("head (none)")
	}
	if len(st.StagedFiles) == 0 {
		fmt.Println("nothing staged")
		return nil
	}
	fmt.Println("staged:")
	for _, sf := range st.StagedFiles {
		fmt.Printf("  %s  %s  %d bytes\n", sf.Path, sf.Digest, sf.Size)
	}
	return nil
}

func commitCommand() error {
	fs := flag.NewFlagSet("commit", flag.ContinueOnError)
	message := fs.String("m", "", "commit message")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return usageError{err.Error()}
	}
	if *message == "" {
		return usageError{"usage: latch commit -m <message>"}
	}

	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	d, err := r.Commit(*message)
	if err != nil {
		return err
	}
	fmt.Printf("committed %s\n", d)
	return nil
}

func logCommand() error {
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	commits, err := r.Log()
	if err != nil {
		return err
	}
	for _, cm := range commits {
		fmt.Printf("commit %s\n", cm.Digest)
		fmt.Printf("Date:  %s\n", cm.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		fmt.Printf("\n    %s\n\n", cm.Message)
	}
	return nil
}

func diffCommand() error {
	args := os.Args[2:]
	if len(args) != 2 {
		return usageError{"usage: latch diff <ref1> <ref2>"}
	}
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	d, err := r.Diff(args[0], args[1])
	if err != nil {
		return err
	}
	for _, p := range d.Added {
		fmt.Printf("A  %s\n", p)
	}
	for _, p := range d.Modified {
		fmt.Printf("M  %s\n", p)
	}
	for _, p := range d.Removed {
		fmt.Printf("D  %s\n", p)
	}
	return nil
}

func branchCommand() error {
	fs := flag.NewFlagSet("branch", flag.ContinueOnError)
	list := fs.Bool("list", false, "list branches")
	del := fs.Bool("delete", false, "delete a branch")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return usageError{err.Error()}
	}
	rest := fs.Args()

	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	switch {
	case *del:
		if len(rest) != 1 {
			return usageError{"usage: latch branch --delete <name>"}
		}
		return r.DeleteBranch(rest[0])
	case *list || len(rest) == 0:
		branches, err := r.ListBranches()
		if err != nil {
			return err
		}
		for _, b := range branches {
			marker := "  "
			if b.IsCurrent {
				marker = "* "
			}
			head := "(no commits)"
			if b.HasHead {
				head = b.Head
			}
			fmt.Printf("%s%s  %s\n", marker, b.Name, head)
		}
		return nil
	default:
		return r.CreateBranch(rest[0])
	}
}

func checkoutCommand() error {
	args := os.Args[2:]
	if len(args) != 1 {
		return usageError{"usage: latch checkout <name>"}
	}
	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Checkout(args[0])
}

func amendCommand() error {
	fs := flag.NewFlagSet("commit-amend", flag.ContinueOnError)
	message := fs.String("m", "", "new commit message (defaults to the current message)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return usageError{err.Error()}
	}

	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	d, err := r.Amend(*message)
	if err != nil {
		return err
	}
	fmt.Printf("amended %s\n", d)
	return nil
}

func chunksCommand() error {
	args := os.Args[2:]
	if len(args) != 1 {
		return usageError{"usage: latch chunks <digest>"}
	}
	d, err := digest.Parse(args[0])
	if err != nil {
		return apperr.Wrap(apperr.CodeNotFound, "parse digest", err)
	}

	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	chunks, err := r.Chunks(d)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		fmt.Printf("%d  %s  %d bytes\n", c.Index, c.Digest, c.Size)
	}
	return nil
}
