package main

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"resinctl/host/client"
	"resinctl/protocol"
)

// recordingController acknowledges every line with DONE, or with an error
// for MOVE_REL on axis q.
func recordingController(t *testing.T) (string, func() []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	var mu sync.Mutex
	var lines []string
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()

			resp := protocol.RespDone
			switch protocol.ParseLine(line).Keyword {
			case protocol.CmdConfigZPeel:
				resp = protocol.RespZPeelConfigured
			case protocol.CmdEnableLevelComp:
				resp = protocol.RespLevelCompOff
			}
			if strings.HasPrefix(line, "MOVE_REL,q") {
				resp = protocol.RespInvalidAxis
			}
			conn.Write([]byte(resp + "\n"))
		}
	}()

	return ln.Addr().String(), func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

func TestShellSession(t *testing.T) {
	addr, received := recordingController(t)
	c := client.NewClient()
	c.SetTimeout(5 * time.Second)
	if err := c.Connect(addr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	input := strings.Join([]string{
		"peel 5.05 5 20 20",
		"move z -1 5",
		"move q 1 1",
		"level off",
		"'jog' 2",
		"NEXT_LAYER",
		"send 'MOVE_REL,a,1,2,4'",
		"frobnicate",
		"move z",
		"quit",
		"next",
	}, "\n")
	var out bytes.Buffer
	if err := runShell(c, strings.NewReader(input), &out, false); err != nil {
		t.Fatalf("runShell failed: %v", err)
	}

	want := []string{
		"CONFIG_Z_PEEL,5.05,5,20,20",
		"MOVE_REL,z,-1,5,10",
		"MOVE_REL,q,1,1,2",
		"ENABLE_LEVEL_COMP,0",
		"MOVE_REL,2",
		"NEXT_LAYER",
		"MOVE_REL,a,1,2,4",
	}
	got := received()
	if len(got) != len(want) {
		t.Fatalf("Expected %d lines, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	text := out.String()
	for _, s := range []string{
		"Error: MOVE_REL,q,1,1,2: ERROR: Invalid axis.",
		"unknown command: frobnicate",
		"usage: move <axis> <dist> <speed> [accel]",
		"Goodbye!",
	} {
		if !strings.Contains(text, s) {
			t.Errorf("Expected %q in shell output:\n%s", s, text)
		}
	}
}

func TestIsRawLine(t *testing.T) {
	tests := map[string]bool{
		"NEXT_LAYER":        true,
		"MOVE_REL,z,1,2,4":  true,
		"move z 1 2":        false,
		"Next_Layer":        false,
		",1,2":              false,
		"CONFIG_AXIS,z,1,1": true,
	}
	for line, want := range tests {
		if got := isRawLine(line); got != want {
			t.Errorf("isRawLine(%q): expected %v, got %v", line, want, got)
		}
	}
}

func TestParseSwitch(t *testing.T) {
	for _, s := range []string{"on", "1", "true"} {
		if on, err := parseSwitch(s); err != nil || !on {
			t.Errorf("parseSwitch(%q): expected on, got %v, %v", s, on, err)
		}
	}
	for _, s := range []string{"off", "0", "false"} {
		if on, err := parseSwitch(s); err != nil || on {
			t.Errorf("parseSwitch(%q): expected off, got %v, %v", s, on, err)
		}
	}
	if _, err := parseSwitch("maybe"); err == nil {
		t.Error("Expected error for an invalid switch")
	}
}

func TestParseFloats(t *testing.T) {
	vals, err := parseFloats([]string{"1", "-2.5", "3e2"})
	if err != nil {
		t.Fatalf("parseFloats failed: %v", err)
	}
	if vals[0] != 1 || vals[1] != -2.5 || vals[2] != 300 {
		t.Errorf("Unexpected values %v", vals)
	}
	if _, err := parseFloats([]string{"1", "x"}); err == nil {
		t.Error("Expected error for a non-number")
	}
}
