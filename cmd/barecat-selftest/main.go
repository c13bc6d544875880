// Command barecat-selftest is a minimal development harness: it creates a
// scratch archive, puts and gets a few files, runs a full verification, and
// prints the report. It is not the archive CLI (that remains an external
// collaborator); it just gives this module a runnable sanity check the way
// the teacher's bench/ package gives it one.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/isarandi/barecat"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "barecat-selftest:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	dir, err := os.MkdirTemp("", "barecat-selftest-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	base := dir + "/scratch"

	bc, err := barecat.Create(ctx, base, barecat.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer bc.Close()

	samples := map[string][]byte{
		"greeting.txt":       []byte("hello, barecat"),
		"nested/data.bin":    {0x01, 0x02, 0x03, 0x04},
		"nested/deep/x.bin":  make([]byte, 1024),
	}
	for path, data := range samples {
		if err := bc.Put(ctx, path, data, false); err != nil {
			return fmt.Errorf("put %s: %w", path, err)
		}
	}

	for path, want := range samples {
		got, err := bc.Get(ctx, path)
		if err != nil {
			return fmt.Errorf("get %s: %w", path, err)
		}
		if len(got) != len(want) {
			return fmt.Errorf("get %s: got %d bytes, want %d", path, len(got), len(want))
		}
	}

	report, err := bc.VerifyFull(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Printf("verified %d files (%d bytes), %d mismatches, %d index problems\n",
		report.FilesChecked, report.BytesChecked, len(report.Mismatches), len(report.IndexProblems))

	defragReport, err := bc.Defrag(ctx)
	if err != nil {
		return fmt.Errorf("defrag: %w", err)
	}
	fmt.Printf("defrag moved %d files, reclaimed %d bytes\n", defragReport.FilesMoved, defragReport.BytesReclaimed)

	return nil
}
