package sender

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hermes-dicom/hermes/internal/target"
)

// fakeDcmsend writes an executable shell script standing in for the real
// dcmsend binary, exiting with the given code.
func fakeDcmsend(t *testing.T, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dcmsend")
	script := "#!/bin/sh\nexit " + itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestSendSuccess(t *testing.T) {
	dir := t.TempDir()
	s := &Sender{Binary: fakeDcmsend(t, 0)}

	result := s.Send(context.Background(), dir, target.Descriptor{TargetIP: "10.0.0.1", TargetPort: 104, TargetAETTarget: "PACS"})
	require.True(t, result.Success())
	require.Equal(t, 0, result.ExitCode)
}

func TestSendKnownFailureExitCode(t *testing.T) {
	dir := t.TempDir()
	s := &Sender{Binary: fakeDcmsend(t, 61)}

	result := s.Send(context.Background(), dir, target.Descriptor{TargetIP: "10.0.0.1", TargetPort: 104, TargetAETTarget: "PACS"})
	require.False(t, result.Success())
	require.Equal(t, 61, result.ExitCode)
	require.Equal(t, "cannot negotiate association", result.Message)
}

func TestSendUnknownExitCode(t *testing.T) {
	dir := t.TempDir()
	s := &Sender{Binary: fakeDcmsend(t, 99)}

	result := s.Send(context.Background(), dir, target.Descriptor{TargetIP: "10.0.0.1", TargetPort: 104, TargetAETTarget: "PACS"})
	require.False(t, result.Success())
	require.Equal(t, 99, result.ExitCode)
	require.Contains(t, result.Message, "unknown exit code")
}

func TestSendBinaryMissing(t *testing.T) {
	dir := t.TempDir()
	s := &Sender{Binary: filepath.Join(t.TempDir(), "no-such-binary")}

	result := s.Send(context.Background(), dir, target.Descriptor{TargetIP: "10.0.0.1", TargetPort: 104, TargetAETTarget: "PACS"})
	require.False(t, result.Success())
	require.Equal(t, 60, result.ExitCode)
}
