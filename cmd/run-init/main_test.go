//go:build linux

package main

import (
	"reflect"
	"testing"

	"github.com/seccomp/libseccomp-golang"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-cpu", "3", "-mem", "256", "-nproc", "64", "-seccomp", "/etc/live.json", "--", "python3", "-u", "main.py"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := limits{cpuSeconds: 3, memoryMB: 256, nproc: 64}
	if opts.limits != want {
		t.Fatalf("limits = %+v", opts.limits)
	}
	if opts.seccompProfile != "/etc/live.json" {
		t.Fatalf("seccomp = %q", opts.seccompProfile)
	}
	if !reflect.DeepEqual(opts.cmd, []string{"python3", "-u", "main.py"}) {
		t.Fatalf("cmd = %v", opts.cmd)
	}
}

func TestParseArgsKeepsCommandFlags(t *testing.T) {
	opts, err := parseArgs([]string{"--", "java", "-cp", "/w", "Main"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(opts.cmd, []string{"java", "-cp", "/w", "Main"}) {
		t.Fatalf("cmd = %v", opts.cmd)
	}
}

func TestParseArgsRequiresCommand(t *testing.T) {
	if _, err := parseArgs([]string{"-cpu", "1", "--"}); err == nil {
		t.Fatalf("expected error without command")
	}
	if _, err := parseArgs([]string{"-cpu", "x", "--", "true"}); err == nil {
		t.Fatalf("expected error for bad limit")
	}
}

func TestParseSeccompAction(t *testing.T) {
	cases := []struct {
		in      string
		want    seccomp.ScmpAction
		wantErr bool
	}{
		{"SCMP_ACT_ALLOW", seccomp.ActAllow, false},
		{"scmp_act_kill", seccomp.ActKillProcess, false},
		{"SCMP_ACT_TRACE", seccomp.ActKillProcess, true},
	}
	for _, tc := range cases {
		got, err := parseSeccompAction(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err = %v", tc.in, err)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("%s: action = %v", tc.in, got)
		}
	}
}
