// Package sender wraps the dcmsend subprocess invocation used to deliver a
// staged series to a DICOM target (spec.md §6).
package sender

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hermes-dicom/hermes/internal/series"
	"github.com/hermes-dicom/hermes/internal/target"
)

// Timeout is the -to value passed to dcmsend (spec.md §6).
const Timeout = 60 * time.Second

// ExitCodes maps dcmsend's documented exit codes to human-readable meanings
// (spec.md §6).
var ExitCodes = map[int]string{
	0:  "success",
	1:  "command-line syntax error",
	21: "no input files",
	22: "invalid input file",
	23: "no valid input files",
	43: "cannot write report file",
	60: "cannot initialize network",
	61: "cannot negotiate association",
	62: "cannot send request",
	65: "cannot add presentation context",
}

// Result is the outcome of one dcmsend invocation.
type Result struct {
	ExitCode int
	Message  string
}

// Success reports whether the invocation succeeded (exit code 0).
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Sender invokes the external dcmsend binary. Binary defaults to "dcmsend"
// (resolved via PATH) when empty.
type Sender struct {
	Binary string
}

// Send runs dcmsend against dir using the target descriptor's connection
// info, per the exact command shape in spec.md §6:
//
//	dcmsend <target_ip> <target_port> +sd <folder>
//	        -aet <source_aet> -aec <target_aet>
//	        -nuc +sp '*.dcm' -to 60 +crf <folder>/sent.txt
func (s *Sender) Send(ctx context.Context, dir string, t target.Descriptor) Result {
	binary := s.Binary
	if binary == "" {
		binary = "dcmsend"
	}

	reportPath := filepath.Join(dir, series.SentReport)
	args := []string{
		t.TargetIP,
		strconv.Itoa(t.TargetPort),
		"+sd", dir,
		"-aet", t.TargetAETSource,
		"-aec", t.TargetAETTarget,
		"-nuc",
		"+sp", "*.dcm",
		"-to", strconv.Itoa(int(Timeout.Seconds())),
		"+crf", reportPath,
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	err := cmd.Run()
	if err == nil {
		return Result{ExitCode: 0, Message: "success"}
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		// The binary could not even be started (e.g. not on PATH); treat
		// this the same as the "cannot initialize network" case so the
		// retry state machine still engages instead of panicking.
		return Result{ExitCode: 60, Message: fmt.Sprintf("failed to start dcmsend: %v", err)}
	}

	code := exitErr.ExitCode()
	msg, known := ExitCodes[code]
	if !known {
		msg = fmt.Sprintf("unknown exit code %d", code)
	}
	return Result{ExitCode: code, Message: msg}
}
