package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/encodedeck/internal/jobs"
	"github.com/smazurov/encodedeck/internal/process"
)

func TestSelectJobs(t *testing.T) {
	all := map[string]jobs.JobSpec{"b": {}, "a": {}, "c": {}}

	tests := []struct {
		name     string
		all      map[string]jobs.JobSpec
		selected []string
		want     string
		wantErr  error
	}{
		{"all sorted", all, nil, "a,b,c", nil},
		{"selection", all, []string{"c", "a"}, "a,c", nil},
		{"duplicates", all, []string{"b", "b"}, "b", nil},
		{"unknown", all, []string{"a", "zzz"}, "", jobs.ErrJobNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectJobs(tt.all, tt.selected)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(got, ",") != tt.want {
				t.Errorf("selectJobs() = %v, want %s", got, tt.want)
			}
		})
	}

	if _, err := selectJobs(map[string]jobs.JobSpec{}, nil); err == nil {
		t.Error("selectJobs() accepted an empty jobs file")
	}
}

func TestCommandStartInfo(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFile string
		wantArgs string
		wantErr  bool
	}{
		{"command line", []string{`ffmpeg -i "in file.mkv" out.mp4`}, "ffmpeg", "-i|in file.mkv|out.mp4", false},
		{"argv", []string{"ffmpeg", "-i", "in file.mkv"}, "ffmpeg", "-i|in file.mkv", false},
		{"unclosed quote", []string{`echo "oops`}, "", "", true},
		{"empty program", []string{" ", "x"}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := commandStartInfo(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Errorf("commandStartInfo(%q) accepted", tt.args)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if info.FileName != tt.wantFile || strings.Join(info.Args, "|") != tt.wantArgs {
				t.Errorf("got %s %q", info.FileName, info.Args)
			}
		})
	}

	if _, err := commandStartInfo([]string{" ", "x"}); !errors.Is(err, process.ErrEmptyCommand) {
		t.Errorf("empty program error = %v, want ErrEmptyCommand", err)
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	c := CreateVersionCmd()
	c.SetOut(&out)
	c.SetArgs([]string{"--json"})
	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"go_version"`) {
		t.Errorf("version --json output = %s", out.String())
	}
}

func TestExecCmd(t *testing.T) {
	var out bytes.Buffer
	c := CreateExecCmd()
	c.SetOut(&out)
	c.SetArgs([]string{"--title", "greeting", "--", "sh", "-c", "echo hello"})
	if err := c.Execute(); err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if got := out.String(); !strings.Contains(got, "[greeting]") || !strings.Contains(got, "hello") {
		t.Errorf("console output = %q", got)
	}
}

func TestExecCmdExitCode(t *testing.T) {
	c := CreateExecCmd()
	c.SetOut(&bytes.Buffer{})
	c.SetErr(&bytes.Buffer{})
	c.SetArgs([]string{"--job", "batch", "sh -c 'exit 3'"})

	err := c.Execute()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 3 {
		t.Errorf("error = %v, want exit code 3", err)
	}
}

func TestRunCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.toml")
	content := `
[jobs.ok]
title = "Fine"
[[jobs.ok.tasks]]
command = "sh -c 'echo first'"
[[jobs.ok.tasks]]
command = "sh -c 'echo second'"

[jobs.bad]
[[jobs.bad.tasks]]
command = "sh -c 'exit 2'"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    []string
	}{
		{"selected job", []string{"--job", "ok", path}, false, []string{"[Fine]", "first", "second"}},
		{"failing job", []string{path}, true, []string{"[Fine]"}},
		{"unknown job", []string{"--job", "nope", path}, true, nil},
		{"missing file arg", nil, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := CreateRunCmd()
			c.SetOut(&out)
			c.SetErr(&bytes.Buffer{})
			c.SetArgs(tt.args)

			err := c.Execute()
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
		})
	}
}
