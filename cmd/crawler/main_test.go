package main

import (
	"os"
	"testing"

	"github.com/masahif/kaitadoru/internal/cmd"
)

func TestVersionVariables(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty string")
	}
	if BuildTime == "" {
		t.Error("BuildTime should not be empty string")
	}

	cmd.SetVersionInfo(Version, BuildTime)
}

func TestExecuteHelp(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	os.Args = []string{"kaitadoru", "--help"}

	cmd.SetVersionInfo(Version, BuildTime)
	if err := cmd.Execute(); err != nil {
		t.Errorf("Execute with help should not return error, got: %v", err)
	}
}
